package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/push-dispatch/internal/cache"
	"github.com/LeventeLantos/push-dispatch/internal/model"
	"github.com/LeventeLantos/push-dispatch/internal/repo"
)

type PipelineConfig struct {
	BatchSize   int
	Concurrency int
}

// Pipeline is one scheduler tick: claim due requests, dispatch them, remove
// invalid tokens and write the final status.
type Pipeline struct {
	repo       repo.RequestRepository
	dispatcher *Dispatcher
	reconciler *Reconciler
	cache      cache.StatusCache

	batchSize   int
	concurrency int
	now         func() time.Time
}

func NewPipeline(r repo.RequestRepository, d *Dispatcher, rc *Reconciler, cfg PipelineConfig) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Pipeline{
		repo:        r,
		dispatcher:  d,
		reconciler:  rc,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		now:         time.Now,
	}
}

// WithCache stores every finalized record in c. Cache failures are logged.
func (p *Pipeline) WithCache(c cache.StatusCache) *Pipeline {
	p.cache = c
	return p
}

// WithClock replaces time.Now for claim and finalize timestamps.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

type TickResult struct {
	Claimed   int
	Completed int
	Failed    int
	Removed   int
}

// Tick runs one claim/dispatch/finalize cycle. A claim error aborts the tick
// before anything is sent. Once requests are claimed they are processed to
// the end even if ctx is canceled.
func (p *Pipeline) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	claimed, err := p.repo.ClaimDue(ctx, p.now(), p.batchSize)
	if err != nil {
		return res, fmt.Errorf("claim due requests: %w", err)
	}
	res.Claimed = len(claimed)
	if len(claimed) == 0 {
		return res, nil
	}

	work := context.WithoutCancel(ctx)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i := range claimed {
		req := claimed[i]
		g.Go(func() error {
			status, removed := p.process(work, req)
			mu.Lock()
			defer mu.Unlock()
			res.Removed += removed
			switch status {
			case model.Completed:
				res.Completed++
			case model.Failed:
				res.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("tick finished",
		"claimed", res.Claimed,
		"completed", res.Completed,
		"failed", res.Failed,
		"tokens_removed", res.Removed,
	)
	return res, nil
}

// RunTick adapts Tick to the scheduler callback signature.
func (p *Pipeline) RunTick(ctx context.Context) {
	if _, err := p.Tick(ctx); err != nil {
		slog.Error("tick aborted", "err", err)
	}
}

func (p *Pipeline) process(ctx context.Context, req model.NotificationRequest) (model.Status, int) {
	if !req.Status.CanTransition(model.Completed) {
		slog.Warn("claimed request is not processing, skipped", "request_id", req.ID, "status", req.Status)
		return "", 0
	}

	d := p.dispatcher.Dispatch(ctx, req.ID, req.Tokens, req.Payload)

	removed := p.reconciler.Reconcile(ctx, req.UserID, d.Invalid)

	at := p.now()
	final := req
	if d.Fault != nil {
		final.Status = model.Failed
		final.FailedAt = &at
		final.Error = d.Fault.Error()
		if err := p.repo.MarkFailed(ctx, req.ID, final.Error, at); err != nil {
			p.logFinalizeError(req.ID, model.Failed, err)
			return "", removed
		}
	} else {
		final.Status = model.Completed
		final.CompletedAt = &at
		final.SuccessCount = d.SuccessCount()
		final.FailureCount = d.FailureCount()
		if err := p.repo.MarkCompleted(ctx, req.ID, final.SuccessCount, final.FailureCount, at); err != nil {
			p.logFinalizeError(req.ID, model.Completed, err)
			return "", removed
		}
	}

	slog.Info("request finalized",
		"request_id", req.ID,
		"status", final.Status,
		"success", final.SuccessCount,
		"failure", final.FailureCount,
		"invalid", len(d.Invalid),
	)

	if p.cache != nil {
		if err := p.cache.StoreFinal(ctx, final); err != nil {
			slog.Warn("final status not cached", "request_id", req.ID, "err", err)
		}
	}
	return final.Status, removed
}

func (p *Pipeline) logFinalizeError(id string, status model.Status, err error) {
	if errors.Is(err, repo.ErrNotProcessing) {
		slog.Warn("finalize skipped, request no longer processing", "request_id", id, "status", status)
		return
	}
	slog.Error("finalize failed", "request_id", id, "status", status, "err", err)
}
