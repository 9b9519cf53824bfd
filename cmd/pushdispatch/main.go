package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/push-dispatch/internal/api"
	"github.com/LeventeLantos/push-dispatch/internal/cache"
	"github.com/LeventeLantos/push-dispatch/internal/client"
	"github.com/LeventeLantos/push-dispatch/internal/config"
	"github.com/LeventeLantos/push-dispatch/internal/repo"
	"github.com/LeventeLantos/push-dispatch/internal/retry"
	"github.com/LeventeLantos/push-dispatch/internal/scheduler"
	"github.com/LeventeLantos/push-dispatch/internal/service"
	"github.com/LeventeLantos/push-dispatch/internal/tokens"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("push-dispatch exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("push-dispatch starting",
		"addr", cfg.Server.Address,
		"store", cfg.Store.Driver,
		"interval", cfg.Scheduler.Interval.String(),
		"batch", cfg.Scheduler.BatchSize,
		"concurrency", cfg.Scheduler.Concurrency,
		"redis", cfg.Redis.Enabled,
	)

	db, requests, dialect, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	var (
		registry    service.TokenRegistry = repo.NewSQLTokenRegistry(db, dialect)
		statusCache cache.StatusCache
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		registry = tokens.NewRedisRegistry(rdb)
		statusCache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	gw := client.NewPushClient(cfg.Push.GatewayURL,
		client.WithAPIKey(cfg.Push.APIKey),
		client.WithRateLimit(cfg.Push.RatePerSec),
		client.WithTimeout(cfg.Push.Timeout),
	)
	dispatcher := service.NewDispatcher(gw, cfg.Push.Timeout)
	reconciler := service.NewReconciler(registry, retry.Strategy{
		Attempts: cfg.Reconcile.Attempts,
		Delay:    cfg.Reconcile.Backoff,
		Backoff:  2,
	})

	pipeline := service.NewPipeline(requests, dispatcher, reconciler, service.PipelineConfig{
		BatchSize:   cfg.Scheduler.BatchSize,
		Concurrency: cfg.Scheduler.Concurrency,
	})
	if statusCache != nil {
		pipeline.WithCache(statusCache)
	}

	sched, err := scheduler.New("dispatch", cfg.Scheduler.Interval, pipeline.RunTick)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Stale.Cron != "" {
		stale := service.NewStaleReporter(requests, cfg.Stale.After)
		job, err := scheduler.NewCronJob("stale-report", cfg.Stale.Cron, stale.Run)
		if err != nil {
			return err
		}
		job.Start()
		defer job.Stop()
	}

	h := api.NewHandler(sched, service.NewIngestor(requests, registry, dispatcher, reconciler), requests, registry)
	if statusCache != nil {
		h.WithCache(statusCache)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*sql.DB, repo.RequestRepository, repo.Dialect, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := repo.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, 0, err
		}
		return db, repo.NewPostgresRequestRepo(db), repo.Postgres, nil
	default:
		db, err := repo.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, 0, err
		}
		return db, repo.NewSQLiteRequestRepo(db), repo.SQLite, nil
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
