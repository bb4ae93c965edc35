package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"punchd/internal/clock"
	"punchd/internal/punch"
	logx "punchd/pkg/logx"
)

// Engine decides, for the current minute, which (user, action) pairs
// need execution, lazily resetting day state as a side effect.
type Engine struct {
	cfg     Config
	users   UserStore
	tracker *punch.Tracker
	log     logx.Logger

	nowFn func() time.Time
}

// NewEngine wires the eligibility engine. loc fixes the wall clock the
// schedule is interpreted in; rng feeds the per-day jitter.
func NewEngine(cfg Config, users UserStore, rng *rand.Rand, loc *time.Location, log logx.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:     cfg,
		users:   users,
		tracker: &punch.Tracker{Jitter: cfg.JitterMinutes, Rng: rng},
		log:     log,
		nowFn:   func() time.Time { return time.Now().In(loc) },
	}
}

// Tracker exposes the engine's status tracker so the executor shares
// the same jitter configuration.
func (e *Engine) Tracker() *punch.Tracker { return e.tracker }

func (e *Engine) now() time.Time { return e.nowFn() }

// Evaluate reads the full user set, resets stale day state (persisted
// in a single batched write when anything changed), and returns the
// ordered decisions for this cycle: per user, login before logout.
//
// "Not eligible" is a normal empty result; only store failures return
// an error, and those abort the whole cycle.
func (e *Engine) Evaluate(ctx context.Context) ([]Decision, error) {
	_ = ctx
	users, err := e.users.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}

	now := e.now()
	cur := clock.FromTime(now)
	day := clock.DayOfWeek(now)

	changed := false
	for i := range users {
		var didReset bool
		users[i], didReset = e.tracker.ResetIfNeeded(users[i], now)
		changed = changed || didReset
	}
	if changed {
		if err := e.users.WriteAll(users); err != nil {
			return nil, fmt.Errorf("persist day reset: %w", err)
		}
	}

	var out []Decision
	for _, u := range users {
		if !u.HasWeekday(day) {
			continue
		}
		if e.needsLogin(cur, u.Today) {
			out = append(out, Decision{User: u, Action: punch.ActionLogin, ScheduledTime: u.Today.RandomizedLoginTime})
		}
		if e.needsLogout(cur, u.Today) {
			out = append(out, Decision{User: u, Action: punch.ActionLogout, ScheduledTime: u.Today.RandomizedLogoutTime})
		}
	}
	return out, nil
}

// needsLogin implements the three-tier login policy: tolerance window,
// bounded retry horizon with attempt ceiling, then unbounded retry
// every cycle. The emergency-logout start is a hard cutoff: past it,
// logging in is pointless because the day's logout procedure takes
// over. A user whose day record carries no parseable target simply is
// not eligible.
func (e *Engine) needsLogin(cur clock.Minutes, st *punch.TodayStatus) bool {
	if st == nil || st.LoginSuccess {
		return false
	}
	target, err := clock.Parse(st.RandomizedLoginTime)
	if err != nil {
		return false
	}
	if cur >= e.cfg.EmergencyStart {
		return false
	}
	if clock.WithinWindow(cur, target, e.cfg.WindowMinutes) {
		return true
	}
	if !clock.After(cur, target) {
		return false
	}
	if clock.WithinHoursAfter(cur, target, e.cfg.RetryHorizonHours) {
		return st.LoginAttempts < e.cfg.MaxDayAttempts
	}
	// Horizon elapsed: keep retrying with no attempt cap. A login must
	// never be permanently missed while the emergency cutoff is ahead.
	return true
}

// needsLogout implements the two-tier logout policy plus the emergency
// fallback: tolerance window, indefinite pursuit once logged in, and
// the fixed end-of-day range that fires even when login never succeeded
// (a partial late punch is preferable to none). The emergency range is
// checked before the target is parsed: it holds on the wall clock
// alone, so a missing or malformed logout target only suppresses the
// schedule-relative tiers.
func (e *Engine) needsLogout(cur clock.Minutes, st *punch.TodayStatus) bool {
	if st == nil || st.LogoutSuccess {
		return false
	}
	if clock.Between(cur, e.cfg.EmergencyStart, e.cfg.EmergencyEnd) {
		return true
	}
	target, err := clock.Parse(st.RandomizedLogoutTime)
	if err != nil {
		return false
	}
	if clock.WithinWindow(cur, target, e.cfg.WindowMinutes) {
		return true
	}
	return st.LoginSuccess && clock.After(cur, target)
}
