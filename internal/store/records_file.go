package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"punchd/internal/punch"
	logx "punchd/pkg/logx"
)

// recordFile is the dependency-free attendance log backend: one JSON
// object per line, appended in execution order. Insertion order is
// chronological order; Query reverses at read time.
type recordFile struct {
	log logx.Logger

	mu     sync.Mutex
	f      *os.File
	path   string
	maxAge time.Duration

	appends int
}

const compactEvery = 500

func openRecordFile(cfg RecordConfig, log logx.Logger) (Records, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("records path is required for file driver")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &recordFile{log: log, f: f, path: path, maxAge: cfg.MaxAge}, nil
}

func (s *recordFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *recordFile) Append(ctx context.Context, rec punch.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("record file closed")
	}
	if err := json.NewEncoder(s.f).Encode(rec); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	s.appends++
	if s.maxAge > 0 && s.appends%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("record compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *recordFile) Query(ctx context.Context, userID string, limit int) ([]punch.Record, error) {
	_ = ctx
	limit = clampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAllLocked()
	if err != nil {
		return nil, err
	}

	// Newest first.
	out := make([]punch.Record, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if userID != "" && all[i].UserID != userID {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (s *recordFile) readAllLocked() ([]punch.Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []punch.Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec punch.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Skip torn tail lines rather than failing the query.
			s.log.Debug("skipping unparsable record line", logx.Err(err))
			continue
		}
		all = append(all, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return all, nil
}

// compactLocked rewrites the file without entries older than maxAge.
// Retention is an operator knob, not a mutation of surviving entries.
func (s *recordFile) compactLocked() error {
	all, err := s.readAllLocked()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-s.maxAge)
	kept := all[:0]
	for _, rec := range all {
		if rec.ExecutedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(all) {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	enc := json.NewEncoder(tmp)
	for _, rec := range kept {
		if err := enc.Encode(rec); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.f = f
	s.log.Info("record log compacted", logx.Int("kept", len(kept)), logx.Int("dropped", len(all)-len(kept)))
	return nil
}
