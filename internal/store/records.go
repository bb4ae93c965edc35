package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"punchd/internal/punch"
	logx "punchd/pkg/logx"
)

// Query limits for the attendance log.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000
)

// RecordConfig configures the attendance log backend.
//
// Driver values:
//   - "file": dependency-free jsonl backend
//   - "sqlite": SQLite database file
type RecordConfig struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxAge      time.Duration // file only; 0 disables compaction
}

// Records is the append-only attendance log. Entries are never mutated
// or deleted after append; Query returns newest-first.
type Records interface {
	Append(ctx context.Context, rec punch.Record) error
	Query(ctx context.Context, userID string, limit int) ([]punch.Record, error)
	Close() error
}

// OpenRecords initializes the configured record store.
func OpenRecords(cfg RecordConfig, log logx.Logger) (Records, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openRecordFile(cfg, log)
	case "sqlite", "sqlite3":
		return openRecordSQLite(cfg, log)
	default:
		return nil, errors.New("unknown records driver: " + cfg.Driver)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
