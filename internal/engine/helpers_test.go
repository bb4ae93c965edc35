package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"punchd/internal/punch"
)

// memStore is an in-memory UserStore that counts writes so tests can
// assert batching and idempotence.
type memStore struct {
	mu       sync.Mutex
	users    []punch.User
	writes   int
	failRead bool
	failWrit bool
}

func (s *memStore) ReadAll() ([]punch.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead {
		return nil, errors.New("store read broken")
	}
	out := make([]punch.User, len(s.users))
	for i, u := range s.users {
		out[i] = u.Clone()
	}
	return out, nil
}

func (s *memStore) WriteAll(users []punch.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrit {
		return errors.New("store write broken")
	}
	s.users = make([]punch.User, len(users))
	for i, u := range users {
		s.users[i] = u.Clone()
	}
	s.writes++
	return nil
}

func (s *memStore) Update(id string, fn func(punch.User) punch.User) (punch.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrit {
		return punch.User{}, errors.New("store write broken")
	}
	for i, u := range s.users {
		if u.ID == id {
			s.users[i] = fn(u.Clone())
			s.writes++
			return s.users[i].Clone(), nil
		}
	}
	return punch.User{}, errors.New("user not found: " + id)
}

func (s *memStore) get(id string) punch.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u.Clone()
		}
	}
	return punch.User{}
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// memRecords collects appended attendance entries.
type memRecords struct {
	mu   sync.Mutex
	recs []punch.Record
	fail bool
}

func (r *memRecords) Append(_ context.Context, rec punch.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("records broken")
	}
	r.recs = append(r.recs, rec)
	return nil
}

func (r *memRecords) all() []punch.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]punch.Record(nil), r.recs...)
}

// plainBox treats blobs as plaintext; "unreadable" fails.
type plainBox struct{}

func (plainBox) Open(blob string) (string, error) {
	if blob == "unreadable" {
		return "", errors.New("cannot decrypt credential")
	}
	return blob, nil
}

// at builds a Monday timestamp at the given wall clock.
func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	// 2024-01-01 is a Monday.
	return time.Date(2024, 1, 1, t.Hour(), t.Minute(), 0, 0, time.UTC)
}

func dayUser(id string) punch.User {
	return punch.User{
		ID:         id,
		Password:   "pw-" + id,
		LoginTime:  "09:00",
		LogoutTime: "18:00",
		Weekdays:   []int{1, 2, 3, 4, 5},
		Today: &punch.TodayStatus{
			Date:                 "2024-01-01",
			RandomizedLoginTime:  "09:00",
			RandomizedLogoutTime: "18:00",
		},
	}
}
