package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/push-dispatch/internal/model"
	"github.com/LeventeLantos/push-dispatch/internal/repo"
)

type Submission struct {
	UserID        string
	Title         string
	Body          string
	Data          map[string]string
	ScheduledTime *time.Time
}

type SubmitResult struct {
	// ID is set for scheduled submissions only.
	ID        string
	Scheduled bool

	InvalidTokensRemoved int
}

// Ingestor accepts new notifications. Scheduled ones are stored as pending
// for the next tick; the rest are delivered inline and never stored.
type Ingestor struct {
	repo       repo.RequestRepository
	registry   TokenRegistry
	dispatcher *Dispatcher
	reconciler *Reconciler

	now   func() time.Time
	newID func() string
}

func NewIngestor(r repo.RequestRepository, registry TokenRegistry, d *Dispatcher, rc *Reconciler) *Ingestor {
	return &Ingestor{
		repo:       r,
		registry:   registry,
		dispatcher: d,
		reconciler: rc,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func (in *Ingestor) Submit(ctx context.Context, s Submission) (SubmitResult, error) {
	if err := validateSubmission(s); err != nil {
		return SubmitResult{}, err
	}

	tokens, err := in.registry.ListTokens(ctx, s.UserID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("list tokens for %s: %w", s.UserID, err)
	}
	if len(tokens) == 0 {
		return SubmitResult{}, ErrNoTargets
	}

	payload := model.Payload{Title: s.Title, Body: s.Body, Data: s.Data}

	if s.ScheduledTime != nil {
		req := &model.NotificationRequest{
			ID:            in.newID(),
			UserID:        s.UserID,
			Payload:       payload,
			Tokens:        tokens,
			ScheduledTime: s.ScheduledTime.UTC(),
			Status:        model.Pending,
			CreatedAt:     in.now().UTC(),
		}
		if err := in.repo.Create(ctx, req); err != nil {
			return SubmitResult{}, fmt.Errorf("store request: %w", err)
		}
		slog.Info("notification scheduled",
			"request_id", req.ID,
			"user_id", req.UserID,
			"tokens", len(tokens),
			"scheduled_time", req.ScheduledTime,
		)
		return SubmitResult{ID: req.ID, Scheduled: true}, nil
	}

	// The caller may hang up mid fan-out; the sends it started still finish.
	work := context.WithoutCancel(ctx)
	d := in.dispatcher.Dispatch(work, "", tokens, payload)
	in.reconciler.Reconcile(work, s.UserID, d.Invalid)

	slog.Info("notification sent",
		"user_id", s.UserID,
		"success", d.SuccessCount(),
		"failure", d.FailureCount(),
		"invalid", len(d.Invalid),
	)

	res := SubmitResult{InvalidTokensRemoved: len(d.Invalid)}
	if d.Fault != nil {
		return res, d.Fault
	}
	return res, nil
}

func validateSubmission(s Submission) error {
	switch {
	case strings.TrimSpace(s.UserID) == "":
		return &ValidationError{Field: "userId", Reason: "is required"}
	case strings.TrimSpace(s.Title) == "":
		return &ValidationError{Field: "title", Reason: "is required"}
	case strings.TrimSpace(s.Body) == "":
		return &ValidationError{Field: "body", Reason: "is required"}
	}
	for k := range s.Data {
		if k == "" {
			return &ValidationError{Field: "data", Reason: "must not contain empty keys"}
		}
	}
	return nil
}
