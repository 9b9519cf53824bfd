package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler calls tickFn once on Start and then on every interval until Stop.
// Ticks run sequentially inside one Scheduler; overlap between processes is
// left to the tick itself.
type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   func(context.Context)

	running atomic.Bool
	ticks   atomic.Int64
	lastRun atomic.Pointer[TickInfo]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type TickInfo struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"durationNs"`
	Panicked  bool          `json:"panicked"`
}

type Status struct {
	Name     string    `json:"name"`
	Running  bool      `json:"running"`
	Interval string    `json:"interval"`
	Ticks    int64     `json:"ticks"`
	LastTick *TickInfo `json:"lastTick,omitempty"`
}

func New(name string, interval time.Duration, tickFn func(context.Context)) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("scheduler started", "name", s.name, "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping", "name", s.name)
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("scheduler stopped", "name", s.name)
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	return Status{
		Name:     s.name,
		Running:  s.running.Load(),
		Interval: s.interval.String(),
		Ticks:    s.ticks.Load(),
		LastTick: s.lastRun.Load(),
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	info := &TickInfo{StartedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			info.Panicked = true
			slog.Error("scheduler tick panic recovered", "name", s.name, "panic", r)
		}
		info.Duration = time.Since(info.StartedAt)
		s.ticks.Add(1)
		s.lastRun.Store(info)
	}()

	s.tickFn(ctx)
	slog.Debug("scheduler tick completed", "name", s.name, "duration_ms", time.Since(info.StartedAt).Milliseconds())
}
