package store

import (
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

// ErrNotFound reports a missing user id.
var ErrNotFound = errors.New("user not found")

// Users is the whole-collection user file. All mutations are
// read-modify-write under one mutex; no row-level locking exists, which
// is why automation cycles are serialized by the run lock.
type Users struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

// OpenUsers prepares the user store at path. The file is created lazily
// on first write; a missing file reads as an empty collection.
func OpenUsers(path string, log logx.Logger) (*Users, error) {
	if path == "" {
		return nil, errors.New("users path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create users dir: %w", err)
		}
	}
	return &Users{log: log, path: path}, nil
}

// ReadAll returns the full collection.
func (s *Users) ReadAll() ([]punch.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// WriteAll atomically replaces the full collection.
func (s *Users) WriteAll(users []punch.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(users)
}

// Get returns one user by id.
func (s *Users) Get(id string) (punch.User, error) {
	users, err := s.ReadAll()
	if err != nil {
		return punch.User{}, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return punch.User{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Upsert inserts or replaces a user keyed by id. Timestamps and any
// existing day state are preserved on update. The second return value
// reports whether the user was created.
func (s *Users) Upsert(u punch.User) (punch.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readLocked()
	if err != nil {
		return punch.User{}, false, err
	}
	now := time.Now()
	u.UpdatedAt = now
	for i, cur := range users {
		if cur.ID == u.ID {
			u.CreatedAt = cur.CreatedAt
			u.Today = cur.Today
			users[i] = u
			return u, false, s.writeLocked(users)
		}
	}
	u.CreatedAt = now
	users = append(users, u)
	return u, true, s.writeLocked(users)
}

// Update applies fn to the stored user and persists the result.
func (s *Users) Update(id string, fn func(punch.User) punch.User) (punch.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readLocked()
	if err != nil {
		return punch.User{}, err
	}
	for i, cur := range users {
		if cur.ID == id {
			users[i] = fn(cur)
			return users[i], s.writeLocked(users)
		}
	}
	return punch.User{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Delete removes a user by id.
func (s *Users) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readLocked()
	if err != nil {
		return err
	}
	for i, cur := range users {
		if cur.ID == id {
			users = append(users[:i], users[i+1:]...)
			return s.writeLocked(users)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Users) readLocked() ([]punch.User, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []punch.User{}, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}
	if len(data) == 0 {
		return []punch.User{}, nil
	}
	var users []punch.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("unmarshal users: %w", err)
	}
	return users, nil
}

func (s *Users) writeLocked(users []punch.User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	// Atomic replace: write a sibling temp file, fsync, then rename
	// over the target. A crash mid-write leaves the old file intact.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp users file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write users file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close users file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod users file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace users file: %w", err)
	}
	return nil
}
