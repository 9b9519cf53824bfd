package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/push-dispatch/internal/repo"
)

// StaleReporter logs requests that have been processing for longer than a
// threshold. It never changes their status; a claimed request that was not
// finalized needs an operator decision.
type StaleReporter struct {
	repo  repo.RequestRepository
	after time.Duration
	limit int
	now   func() time.Time
}

func NewStaleReporter(r repo.RequestRepository, after time.Duration) *StaleReporter {
	return &StaleReporter{repo: r, after: after, limit: 100, now: time.Now}
}

// Report returns the number of stuck requests it found.
func (s *StaleReporter) Report(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.after)
	stuck, err := s.repo.ListStuck(ctx, cutoff, s.limit)
	if err != nil {
		return 0, err
	}
	for _, req := range stuck {
		var started time.Time
		if req.ProcessStartTime != nil {
			started = *req.ProcessStartTime
		}
		slog.Warn("request stuck in processing",
			"request_id", req.ID,
			"user_id", req.UserID,
			"process_start_time", started,
			"age", s.now().Sub(started).Round(time.Second).String(),
		)
	}
	return len(stuck), nil
}

// Run adapts Report to the cron callback signature.
func (s *StaleReporter) Run(ctx context.Context) {
	n, err := s.Report(ctx)
	if err != nil {
		slog.Error("stale report failed", "err", err)
		return
	}
	if n > 0 {
		slog.Warn("stale report", "stuck", n, "older_than", s.after.String())
	}
}
