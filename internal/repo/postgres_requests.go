package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LeventeLantos/push-dispatch/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres connects through the pgx database/sql driver and applies the
// schema.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db, Postgres); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type PostgresRequestRepo struct {
	db *sql.DB
}

func NewPostgresRequestRepo(db *sql.DB) *PostgresRequestRepo {
	return &PostgresRequestRepo{db: db}
}

func (r *PostgresRequestRepo) Create(ctx context.Context, req *model.NotificationRequest) error {
	data, tokens, err := encodeJSON(req)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notification_requests
			(id, user_id, title, body, data, tokens, scheduled_time, status, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8, $9)
	`, req.ID, req.UserID, req.Payload.Title, req.Payload.Body, data, tokens,
		req.ScheduledTime.UTC(), string(req.Status), req.CreatedAt.UTC())
	return err
}

func (r *PostgresRequestRepo) Get(ctx context.Context, id string) (*model.NotificationRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM notification_requests
		WHERE id = $1
	`, id)

	m, err := scanPostgresRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ClaimDue is a single conditional UPDATE. Rows locked by a concurrent claim
// are skipped rather than waited on, and the outer status guard makes the
// flip a no-op for anything that stopped being pending.
func (r *PostgresRequestRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.NotificationRequest, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE notification_requests
		SET status = 'processing', process_start_time = $1
		WHERE id IN (
			SELECT id
			FROM notification_requests
			WHERE status = 'pending' AND scheduled_time <= $1
			ORDER BY scheduled_time ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'pending'
		RETURNING `+requestColumns,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := collectPostgres(rows)
	if err != nil {
		return nil, err
	}
	sortByScheduled(out)
	return out, nil
}

func (r *PostgresRequestRepo) MarkCompleted(ctx context.Context, id string, successCount, failureCount int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_requests
		SET status = 'completed',
		    completed_at = $2,
		    success_count = $3,
		    failure_count = $4
		WHERE id = $1 AND status = 'processing'
	`, id, at.UTC(), successCount, failureCount)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (r *PostgresRequestRepo) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_requests
		SET status = 'failed',
		    failed_at = $2,
		    error = $3
		WHERE id = $1 AND status = 'processing'
	`, id, at.UTC(), reason)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (r *PostgresRequestRepo) ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.NotificationRequest, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM notification_requests
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPostgres(rows)
}

func (r *PostgresRequestRepo) ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]model.NotificationRequest, error) {
	limit, _ = normalizePage(limit, 0)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM notification_requests
		WHERE status = 'processing' AND process_start_time < $1
		ORDER BY process_start_time ASC
		LIMIT $2
	`, startedBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPostgres(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectPostgres(rows *sql.Rows) ([]model.NotificationRequest, error) {
	var out []model.NotificationRequest
	for rows.Next() {
		m, err := scanPostgresRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanPostgresRequest(s rowScanner) (model.NotificationRequest, error) {
	var (
		m            model.NotificationRequest
		status       string
		data, tokens []byte
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		failedAt     sql.NullTime
		lastErr      sql.NullString
	)

	if err := s.Scan(
		&m.ID,
		&m.UserID,
		&m.Payload.Title,
		&m.Payload.Body,
		&data,
		&tokens,
		&m.ScheduledTime,
		&status,
		&m.CreatedAt,
		&startedAt,
		&completedAt,
		&failedAt,
		&m.SuccessCount,
		&m.FailureCount,
		&lastErr,
	); err != nil {
		return model.NotificationRequest{}, err
	}

	m.Status = model.Status(status)
	m.ProcessStartTime = nullTimePtr(startedAt)
	m.CompletedAt = nullTimePtr(completedAt)
	m.FailedAt = nullTimePtr(failedAt)
	if lastErr.Valid {
		m.Error = lastErr.String
	}
	if err := decodeJSON(&m, data, tokens); err != nil {
		return model.NotificationRequest{}, err
	}
	return m, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
