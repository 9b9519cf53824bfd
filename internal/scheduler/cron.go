package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronJob runs fn on a cron expression such as "*/5 * * * *" or "@every 5m".
// Overlapping runs are skipped, not queued.
type CronJob struct {
	name string
	spec string
	fn   func(context.Context)

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

func NewCronJob(name, spec string, fn func(context.Context)) (*CronJob, error) {
	if fn == nil {
		return nil, errors.New("fn must not be nil")
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return &CronJob{name: name, spec: spec, fn: fn}, nil
}

func (j *CronJob) Start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.c != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cronLogger{name: j.name}), cron.SkipIfStillRunning(cronLogger{name: j.name})),
	)
	if _, err := c.AddFunc(j.spec, func() { j.fn(ctx) }); err != nil {
		cancel()
		slog.Error("cron job not registered", "name", j.name, "spec", j.spec, "err", err)
		return false
	}

	j.c = c
	j.cancel = cancel
	c.Start()

	slog.Info("cron job started", "name", j.name, "spec", j.spec)
	return true
}

// Stop cancels the context handed to fn and waits for a running call to return.
func (j *CronJob) Stop() bool {
	j.mu.Lock()
	c, cancel := j.c, j.cancel
	j.c, j.cancel = nil, nil
	j.mu.Unlock()

	if c == nil {
		return false
	}

	cancel()
	<-c.Stop().Done()

	slog.Info("cron job stopped", "name", j.name)
	return true
}

type cronLogger struct {
	name string
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, append([]any{"name", l.name}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"name", l.name, "err", err}, keysAndValues...)...)
}
