// Package punch holds the attendance domain model and the per-day
// status tracker.
//
// User records are value types updated copy-on-write: tracker functions
// return a new snapshot and never mutate their input. The canonical
// copy lives in the user store.
package punch

import (
	"errors"
	"fmt"
	"time"

	"punchd/internal/clock"
)

// Action is a punch direction.
type Action string

const (
	ActionLogin  Action = "login"
	ActionLogout Action = "logout"
)

// User is a scheduled portal account.
//
// Password is an opaque encrypted blob; it is decrypted only at
// execution time, never cached.
type User struct {
	ID         string `json:"id"`
	Password   string `json:"password"`
	LoginTime  string `json:"login_time,omitempty"`  // "HH:MM"
	LogoutTime string `json:"logout_time,omitempty"` // "HH:MM"
	Weekdays   []int  `json:"weekdays"`              // 1..7, Monday=1

	Today *TodayStatus `json:"today_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TodayStatus is the per-day execution state of a User. It is owned by
// its User and replaced wholesale when Date differs from the current
// calendar date (lazy reset).
type TodayStatus struct {
	Date string `json:"date"` // "YYYY-MM-DD", reset key

	LoginAttempts  int `json:"login_attempts"`
	LogoutAttempts int `json:"logout_attempts"`

	// One-way latches: once true for the day, the action is never
	// attempted again until the next reset.
	LoginSuccess  bool `json:"login_success"`
	LogoutSuccess bool `json:"logout_success"`

	// Timestamps of the most recent attempt (not the scheduled times).
	LoginAt  time.Time `json:"login_at,omitempty"`
	LogoutAt time.Time `json:"logout_at,omitempty"`

	// Jittered targets, materialized once per day so every cycle of the
	// same day checks against the same minute.
	RandomizedLoginTime  string `json:"randomized_login_time,omitempty"`  // "HH:MM"
	RandomizedLogoutTime string `json:"randomized_logout_time,omitempty"` // "HH:MM"

	// Portal-reported punch times, when the provider surfaces them.
	ActualInTime  string `json:"actual_in_time,omitempty"`
	ActualOutTime string `json:"actual_out_time,omitempty"`

	// Most recent failure message. Only ever overwritten; a success of
	// the other action does not clear it.
	LastError string `json:"last_error,omitempty"`
}

// Record is one immutable attendance log entry.
type Record struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Action        Action    `json:"action"`
	ScheduledTime string    `json:"scheduled_time"` // "HH:MM"
	ExecutedAt    time.Time `json:"executed_at"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	cp := u
	cp.Weekdays = append([]int(nil), u.Weekdays...)
	if u.Today != nil {
		st := *u.Today
		cp.Today = &st
	}
	return cp
}

// HasWeekday reports whether day (1..7, Monday=1) is in the user's
// schedule.
func (u User) HasWeekday(day int) bool {
	for _, d := range u.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// Validate checks the schedule fields of a user record.
func (u User) Validate() error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	seen := map[int]bool{}
	for _, d := range u.Weekdays {
		if d < 1 || d > 7 {
			return fmt.Errorf("weekday %d out of range 1..7", d)
		}
		if seen[d] {
			return fmt.Errorf("duplicate weekday %d", d)
		}
		seen[d] = true
	}
	var in, out clock.Minutes
	var haveIn, haveOut bool
	if u.LoginTime != "" {
		m, err := clock.Parse(u.LoginTime)
		if err != nil {
			return fmt.Errorf("login_time: %w", err)
		}
		in, haveIn = m, true
	}
	if u.LogoutTime != "" {
		m, err := clock.Parse(u.LogoutTime)
		if err != nil {
			return fmt.Errorf("logout_time: %w", err)
		}
		out, haveOut = m, true
	}
	if haveIn && haveOut && in >= out {
		return errors.New("login_time must be before logout_time")
	}
	return nil
}
