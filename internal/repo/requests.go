package repo

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/LeventeLantos/push-dispatch/internal/model"
)

var (
	ErrNotFound      = errors.New("notification request not found")
	ErrNotProcessing = errors.New("notification request is not processing")
)

// RequestRepository persists notification requests. Every status change is a
// conditional write on the expected prior status, so a record only ever moves
// forward through pending -> processing -> completed|failed.
type RequestRepository interface {
	Create(ctx context.Context, req *model.NotificationRequest) error
	Get(ctx context.Context, id string) (*model.NotificationRequest, error)

	// ClaimDue atomically flips up to limit pending requests with
	// scheduledTime <= now to processing and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.NotificationRequest, error)

	MarkCompleted(ctx context.Context, id string, successCount, failureCount int, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, at time.Time) error

	ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.NotificationRequest, error)
	ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]model.NotificationRequest, error)
}

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema for the given dialect. The schema is
// idempotent, so it is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	name := "migrations/postgres.sql"
	if d == SQLite {
		name = "migrations/sqlite.sql"
	}
	b, err := migrationsFS.ReadFile(name)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply %s: %w", name, err)
	}
	return nil
}

const requestColumns = `id, user_id, title, body, data, tokens, scheduled_time, status, created_at,
	process_start_time, completed_at, failed_at, success_count, failure_count, error`

func encodeJSON(req *model.NotificationRequest) (data, tokens string, err error) {
	d := req.Payload.Data
	if d == nil {
		d = map[string]string{}
	}
	db, err := json.Marshal(d)
	if err != nil {
		return "", "", err
	}
	tb, err := json.Marshal(req.Tokens)
	if err != nil {
		return "", "", err
	}
	return string(db), string(tb), nil
}

func decodeJSON(m *model.NotificationRequest, data, tokens []byte) error {
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m.Payload.Data); err != nil {
			return fmt.Errorf("decode data of %s: %w", m.ID, err)
		}
		if len(m.Payload.Data) == 0 {
			m.Payload.Data = nil
		}
	}
	if err := json.Unmarshal(tokens, &m.Tokens); err != nil {
		return fmt.Errorf("decode tokens of %s: %w", m.ID, err)
	}
	return nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func checkTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotProcessing
	}
	return nil
}

// RETURNING does not promise an order.
func sortByScheduled(reqs []model.NotificationRequest) {
	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].ScheduledTime.Before(reqs[j].ScheduledTime) })
}
