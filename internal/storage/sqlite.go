package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "farebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage.sqlite"))}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, userID int64) (Record, bool, error) {
	var (
		rec              Record
		active           int
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, active, created_at, updated_at FROM subscriptions WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &active, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.Active = active != 0
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)

	origins, err := s.origins(ctx, userID)
	if err != nil {
		return Record{}, false, err
	}
	rec.Origins = origins
	return rec, true, nil
}

func (s *sqliteStore) origins(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code FROM subscription_origins WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// Put replaces the record and its origin list in one transaction.
func (s *sqliteStore) Put(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	active := 0
	if rec.Active {
		active = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions(user_id, active, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET active=excluded.active, created_at=excluded.created_at, updated_at=excluded.updated_at`,
		rec.UserID, active, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscription_origins WHERE user_id = ?`, rec.UserID); err != nil {
		return err
	}
	for i, code := range rec.Origins {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscription_origins(user_id, position, code) VALUES(?,?,?)`,
			rec.UserID, i, code,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, active, created_at, updated_at FROM subscriptions ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	var out []Record
	for rows.Next() {
		var (
			rec              Record
			active           int
			created, updated string
		)
		if err := rows.Scan(&rec.UserID, &active, &created, &updated); err != nil {
			_ = rows.Close()
			return nil, err
		}
		rec.Active = active != 0
		rec.CreatedAt = parseTime(created)
		rec.UpdatedAt = parseTime(updated)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Single connection: the cursor must be closed before the next query.
	_ = rows.Close()

	for i := range out {
		origins, err := s.origins(ctx, out[i].UserID)
		if err != nil {
			return nil, err
		}
		out[i].Origins = origins
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
