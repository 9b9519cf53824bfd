package repo

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// SQLTokenRegistry keeps device tokens in the device_tokens table of either
// backend. Queries are written with '?' placeholders and rebound for Postgres.
type SQLTokenRegistry struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLTokenRegistry(db *sql.DB, d Dialect) *SQLTokenRegistry {
	return &SQLTokenRegistry{db: db, dialect: d, now: time.Now}
}

func (r *SQLTokenRegistry) ListTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT token
		FROM device_tokens
		WHERE user_id = ?
		ORDER BY created_at ASC, token ASC
	`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

func (r *SQLTokenRegistry) RegisterToken(ctx context.Context, userID, token string) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO device_tokens (user_id, token, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, token) DO NOTHING
	`), userID, token, r.timeArg(r.now()))
	return err
}

// DeleteToken is idempotent: removing an absent token is not an error.
func (r *SQLTokenRegistry) DeleteToken(ctx context.Context, userID, token string) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
		DELETE FROM device_tokens
		WHERE user_id = ? AND token = ?
	`), userID, token)
	return err
}

func (r *SQLTokenRegistry) timeArg(t time.Time) any {
	if r.dialect == SQLite {
		return t.UnixMilli()
	}
	return t.UTC()
}

func (r *SQLTokenRegistry) rebind(q string) string {
	if r.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
