package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Push      PushConfig
	Reconcile ReconcileConfig
	Stale     StaleConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

type StoreConfig struct {
	Driver      string
	PostgresURL string
	SQLitePath  string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

type PushConfig struct {
	GatewayURL string
	APIKey     string
	Timeout    time.Duration
	RatePerSec int
}

type ReconcileConfig struct {
	Attempts int
	Backoff  time.Duration
}

// StaleConfig drives the report-only sweep for requests left in processing.
// An empty Cron disables it.
type StaleConfig struct {
	Cron  string
	After time.Duration
}

type LogConfig struct {
	Level slog.Level
}

func LoadAll() (*Config, error) {
	var errs []error

	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	gatewayURL, err := requireEnv("PUSH_GATEWAY_URL")
	if err != nil {
		errs = append(errs, err)
	}

	store, err := loadStoreConfig()
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Store: store,
		Redis: redisCfg,
		Scheduler: SchedulerConfig{
			Interval:    time.Duration(intVar("SCHED_INTERVAL_SECONDS", 60)) * time.Second,
			BatchSize:   intVar("SCHED_BATCH_SIZE", 100),
			Concurrency: intVar("SCHED_CONCURRENCY", 4),
		},
		Push: PushConfig{
			GatewayURL: gatewayURL,
			APIKey:     os.Getenv("PUSH_API_KEY"),
			Timeout:    time.Duration(intVar("PUSH_TIMEOUT_MS", 5000)) * time.Millisecond,
			RatePerSec: intVar("PUSH_RATE_PER_SEC", 0),
		},
		Reconcile: ReconcileConfig{
			Attempts: intVar("RECONCILE_ATTEMPTS", 3),
			Backoff:  time.Duration(intVar("RECONCILE_BACKOFF_MS", 100)) * time.Millisecond,
		},
		Stale: StaleConfig{
			Cron:  strings.TrimSpace(getEnvDefault("STALE_CRON", "@every 5m")),
			After: time.Duration(intVar("STALE_AFTER_SECONDS", 900)) * time.Second,
		},
		Log: LogConfig{Level: level},
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres))
	switch driver {
	case DriverPostgres:
		url, err := requireEnv("POSTGRES_URL")
		if err != nil {
			return StoreConfig{Driver: driver}, err
		}
		return StoreConfig{Driver: driver, PostgresURL: url}, nil
	case DriverSQLite:
		return StoreConfig{
			Driver:     driver,
			SQLitePath: getEnv("SQLITE_PATH", "data/notifications.db"),
		}, nil
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER %q (want %s or %s)", driver, DriverPostgres, DriverSQLite)
	}
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err := errors.Join(dbErr, ttlErr); err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHED_BATCH_SIZE must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.Concurrency <= 0 {
		errs = append(errs, errors.New("SCHED_CONCURRENCY must be > 0"))
	}
	if cfg.Push.Timeout <= 0 {
		errs = append(errs, errors.New("PUSH_TIMEOUT_MS must be > 0"))
	}
	if cfg.Push.RatePerSec < 0 {
		errs = append(errs, errors.New("PUSH_RATE_PER_SEC must be >= 0"))
	}
	if cfg.Reconcile.Attempts <= 0 {
		errs = append(errs, errors.New("RECONCILE_ATTEMPTS must be > 0"))
	}
	if cfg.Reconcile.Backoff < 0 {
		errs = append(errs, errors.New("RECONCILE_BACKOFF_MS must be >= 0"))
	}
	if cfg.Stale.Cron != "" && cfg.Stale.After <= 0 {
		errs = append(errs, errors.New("STALE_AFTER_SECONDS must be > 0"))
	}
	return joinErrors(errs)
}

func parseLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", raw)
	}
	return l, nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvDefault differs from getEnv in that a key set to "" is honored.
func getEnvDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
