package service

import (
	"context"
	"testing"
	"time"

	"github.com/LeventeLantos/push-dispatch/internal/model"
)

func TestStaleReporter_FindsOnlyOldProcessing(t *testing.T) {
	t.Parallel()

	r := newMemRepo()
	old := tickNow.Add(-30 * time.Minute)
	fresh := tickNow.Add(-time.Minute)

	stuck := pendingRequest("stuck", "u1", []string{"A"}, old)
	stuck.Status = model.Processing
	stuck.ProcessStartTime = &old
	r.put(stuck)

	running := pendingRequest("running", "u1", []string{"A"}, fresh)
	running.Status = model.Processing
	running.ProcessStartTime = &fresh
	r.put(running)

	r.put(pendingRequest("pending", "u1", []string{"A"}, old))

	s := NewStaleReporter(r, 15*time.Minute)
	s.now = func() time.Time { return tickNow }

	n, err := s.Report(context.Background())
	if err != nil {
		t.Fatalf("Report() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stuck request, got %d", n)
	}
	if r.Writes() != 0 {
		t.Fatalf("stale report must not write, got %d writes", r.Writes())
	}
	if got, _ := r.Get(context.Background(), "stuck"); got.Status != model.Processing {
		t.Fatalf("stuck request must keep its status, got %s", got.Status)
	}
}
