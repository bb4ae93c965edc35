package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"punchd/internal/punch"
	logx "punchd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type recordSQLite struct {
	db  *sql.DB
	log logx.Logger
}

func openRecordSQLite(cfg RecordConfig, log logx.Logger) (Records, error) {
	if cfg.Path == "" {
		return nil, errors.New("records path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &recordSQLite{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *recordSQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *recordSQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *recordSQLite) Append(ctx context.Context, rec punch.Record) error {
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attendance(id, user_id, action, scheduled_time, executed_at, success, err)
		 VALUES(?,?,?,?,?,?,?)`,
		rec.ID, rec.UserID, string(rec.Action), rec.ScheduledTime,
		rec.ExecutedAt.Format(time.RFC3339Nano), boolToInt(rec.Success), nullStr(rec.Error),
	)
	return err
}

func (s *recordSQLite) Query(ctx context.Context, userID string, limit int) ([]punch.Record, error) {
	limit = clampLimit(limit)

	q := `SELECT id, user_id, action, scheduled_time, executed_at, success, err
	      FROM attendance`
	args := []any{}
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []punch.Record
	for rows.Next() {
		var rec punch.Record
		var action, executedAt string
		var success int
		var errStr sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &action, &rec.ScheduledTime, &executedAt, &success, &errStr); err != nil {
			return nil, err
		}
		rec.Action = punch.Action(action)
		rec.Success = success != 0
		rec.Error = errStr.String
		if ts, err := time.Parse(time.RFC3339Nano, executedAt); err == nil {
			rec.ExecutedAt = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
