package punch

import (
	"math/rand"
	"time"

	"punchd/internal/clock"
)

// Tracker manages per-day user state. Jitter is the +/- window in
// minutes applied to scheduled times when a new day record is created.
type Tracker struct {
	Jitter int
	Rng    *rand.Rand
}

// Result is the outcome of one executed action, as reported by the
// executor.
type Result struct {
	Success    bool
	Error      string
	ActualTime string // portal-reported punch time, optional
}

// ShouldReset reports whether st belongs to a previous day (or is
// absent) relative to currentDate ("YYYY-MM-DD").
func ShouldReset(currentDate string, st *TodayStatus) bool {
	return st == nil || st.Date != currentDate
}

// ResetIfNeeded returns a user whose Today record belongs to the
// current date, replacing it wholesale when stale. The jittered targets
// are recomputed from the user's current scheduled times, so schedule
// edits take effect on the next day rather than retroactively mid-day.
//
// The second return value reports whether a reset actually happened, so
// callers can batch store writes.
func (t *Tracker) ResetIfNeeded(u User, now time.Time) (User, bool) {
	date := clock.Date(now)
	if !ShouldReset(date, u.Today) {
		return u, false
	}
	cp := u.Clone()
	cp.Today = t.newDay(u, date)
	return cp, true
}

func (t *Tracker) newDay(u User, date string) *TodayStatus {
	st := &TodayStatus{Date: date}
	if m, err := clock.Parse(u.LoginTime); err == nil {
		st.RandomizedLoginTime = clock.Randomize(m, t.Jitter, t.Rng).String()
	}
	if m, err := clock.Parse(u.LogoutTime); err == nil {
		st.RandomizedLogoutTime = clock.Randomize(m, t.Jitter, t.Rng).String()
	}
	return st
}

// ApplyResult folds one attempt outcome into the user's day state and
// returns the new snapshot.
//
// Counters only ever increase within a day and success latches never
// reset except through the date-based reset. LastError is overwritten
// only when a new error is supplied: a success of one action leaves a
// stale error from the other action in place. Noisy but safe, and
// preserved on purpose.
//
// The reset check is repeated here defensively because callers may
// apply results without having evaluated eligibility first (e.g. a
// cycle that started just before midnight).
func (t *Tracker) ApplyResult(u User, action Action, res Result, now time.Time) User {
	cp, _ := t.ResetIfNeeded(u, now)
	cp = cp.Clone()
	st := cp.Today

	switch action {
	case ActionLogin:
		st.LoginAttempts++
		st.LoginAt = now
		if res.Success {
			st.LoginSuccess = true
		}
		if res.ActualTime != "" {
			st.ActualInTime = res.ActualTime
		}
	case ActionLogout:
		st.LogoutAttempts++
		st.LogoutAt = now
		if res.Success {
			st.LogoutSuccess = true
		}
		if res.ActualTime != "" {
			st.ActualOutTime = res.ActualTime
		}
	}
	if res.Error != "" {
		st.LastError = res.Error
	}
	cp.UpdatedAt = now
	return cp
}
