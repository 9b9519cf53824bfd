package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LeventeLantos/push-dispatch/internal/model"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the database file at path and applies
// the schema. Timestamps are stored as unix milliseconds.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers, which is also what makes the
	// UPDATE ... RETURNING claim exclusive on this backend.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := Migrate(ctx, db, SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type SQLiteRequestRepo struct {
	db *sql.DB
}

func NewSQLiteRequestRepo(db *sql.DB) *SQLiteRequestRepo {
	return &SQLiteRequestRepo{db: db}
}

func (r *SQLiteRequestRepo) Create(ctx context.Context, req *model.NotificationRequest) error {
	data, tokens, err := encodeJSON(req)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notification_requests
			(id, user_id, title, body, data, tokens, scheduled_time, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.UserID, req.Payload.Title, req.Payload.Body, data, tokens,
		req.ScheduledTime.UnixMilli(), string(req.Status), req.CreatedAt.UnixMilli())
	return err
}

func (r *SQLiteRequestRepo) Get(ctx context.Context, id string) (*model.NotificationRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM notification_requests
		WHERE id = ?
	`, id)

	m, err := scanSQLiteRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *SQLiteRequestRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.NotificationRequest, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE notification_requests
		SET status = 'processing', process_start_time = ?1
		WHERE status = 'pending'
		AND id IN (
			SELECT id
			FROM notification_requests
			WHERE status = 'pending' AND scheduled_time <= ?1
			ORDER BY scheduled_time ASC
			LIMIT ?2
		)
		RETURNING `+requestColumns,
		now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := collectSQLite(rows)
	if err != nil {
		return nil, err
	}
	sortByScheduled(out)
	return out, nil
}

func (r *SQLiteRequestRepo) MarkCompleted(ctx context.Context, id string, successCount, failureCount int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_requests
		SET status = 'completed',
		    completed_at = ?,
		    success_count = ?,
		    failure_count = ?
		WHERE id = ? AND status = 'processing'
	`, at.UnixMilli(), successCount, failureCount, id)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (r *SQLiteRequestRepo) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_requests
		SET status = 'failed',
		    failed_at = ?,
		    error = ?
		WHERE id = ? AND status = 'processing'
	`, at.UnixMilli(), reason, id)
	if err != nil {
		return err
	}
	return checkTransition(res)
}

func (r *SQLiteRequestRepo) ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.NotificationRequest, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM notification_requests
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSQLite(rows)
}

func (r *SQLiteRequestRepo) ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]model.NotificationRequest, error) {
	limit, _ = normalizePage(limit, 0)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM notification_requests
		WHERE status = 'processing' AND process_start_time < ?
		ORDER BY process_start_time ASC
		LIMIT ?
	`, startedBefore.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSQLite(rows)
}

func collectSQLite(rows *sql.Rows) ([]model.NotificationRequest, error) {
	var out []model.NotificationRequest
	for rows.Next() {
		m, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanSQLiteRequest(s rowScanner) (model.NotificationRequest, error) {
	var (
		m                 model.NotificationRequest
		status            string
		data, tokens      string
		scheduled, create int64
		startedAt         sql.NullInt64
		completedAt       sql.NullInt64
		failedAt          sql.NullInt64
		lastErr           sql.NullString
	)

	if err := s.Scan(
		&m.ID,
		&m.UserID,
		&m.Payload.Title,
		&m.Payload.Body,
		&data,
		&tokens,
		&scheduled,
		&status,
		&create,
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
	m.ScheduledTime = time.UnixMilli(scheduled).UTC()
	m.CreatedAt = time.UnixMilli(create).UTC()
	m.ProcessStartTime = millisPtr(startedAt)
	m.CompletedAt = millisPtr(completedAt)
	m.FailedAt = millisPtr(failedAt)
	if lastErr.Valid {
		m.Error = lastErr.String
	}
	if err := decodeJSON(&m, []byte(data), []byte(tokens)); err != nil {
		return model.NotificationRequest{}, err
	}
	return m, nil
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
