package punch

import (
	"math/rand"
	"testing"
	"time"

	"punchd/internal/clock"
)

func newTracker() *Tracker {
	return &Tracker{Jitter: 5, Rng: rand.New(rand.NewSource(42))}
}

func testUser() User {
	return User{
		ID:         "u1",
		Password:   "opaque",
		LoginTime:  "09:00",
		LogoutTime: "18:00",
		Weekdays:   []int{1, 2, 3, 4, 5},
	}
}

var monday = time.Date(2024, 1, 1, 8, 58, 0, 0, time.UTC)

func TestShouldReset(t *testing.T) {
	if !ShouldReset("2024-01-01", nil) {
		t.Fatal("absent status must reset")
	}
	if !ShouldReset("2024-01-02", &TodayStatus{Date: "2024-01-01"}) {
		t.Fatal("stale date must reset")
	}
	if ShouldReset("2024-01-01", &TodayStatus{Date: "2024-01-01"}) {
		t.Fatal("same date must not reset")
	}
}

func TestResetIfNeededMaterializesJitter(t *testing.T) {
	tr := newTracker()
	u, changed := tr.ResetIfNeeded(testUser(), monday)
	if !changed {
		t.Fatal("fresh user must be reset")
	}
	st := u.Today
	if st == nil || st.Date != "2024-01-01" {
		t.Fatalf("unexpected day record: %+v", st)
	}
	rl, err := clock.Parse(st.RandomizedLoginTime)
	if err != nil {
		t.Fatalf("randomized login time not HH:MM: %q", st.RandomizedLoginTime)
	}
	if !clock.WithinWindow(rl, 9*60, tr.Jitter) {
		t.Fatalf("jittered login %v too far from 09:00", rl)
	}
	ro, err := clock.Parse(st.RandomizedLogoutTime)
	if err != nil {
		t.Fatalf("randomized logout time not HH:MM: %q", st.RandomizedLogoutTime)
	}
	if !clock.WithinWindow(ro, 18*60, tr.Jitter) {
		t.Fatalf("jittered logout %v too far from 18:00", ro)
	}

	// Second call on the same day is a no-op.
	again, changed := tr.ResetIfNeeded(u, monday.Add(30*time.Minute))
	if changed {
		t.Fatal("same-day reset must be idempotent")
	}
	if again.Today.RandomizedLoginTime != st.RandomizedLoginTime {
		t.Fatal("jitter must stay stable within a day")
	}
}

func TestResetReplacesWholesaleOnNewDay(t *testing.T) {
	tr := newTracker()
	u, _ := tr.ResetIfNeeded(testUser(), monday)
	u = tr.ApplyResult(u, ActionLogin, Result{Success: true, ActualTime: "09:02"}, monday)

	tuesday := monday.AddDate(0, 0, 1)
	u2, changed := tr.ResetIfNeeded(u, tuesday)
	if !changed {
		t.Fatal("new day must reset")
	}
	st := u2.Today
	if st.LoginSuccess || st.LoginAttempts != 0 || st.ActualInTime != "" || st.LastError != "" {
		t.Fatalf("day record must be recreated, not merged: %+v", st)
	}
	if st.Date != "2024-01-02" {
		t.Fatalf("wrong date: %q", st.Date)
	}
}

func TestScheduleEditTakesEffectNextDay(t *testing.T) {
	tr := newTracker()
	u, _ := tr.ResetIfNeeded(testUser(), monday)
	before := u.Today.RandomizedLoginTime

	u.LoginTime = "10:30"
	same, changed := tr.ResetIfNeeded(u, monday.Add(time.Hour))
	if changed || same.Today.RandomizedLoginTime != before {
		t.Fatal("mid-day schedule edit must not move today's target")
	}

	next, _ := tr.ResetIfNeeded(u, monday.AddDate(0, 0, 1))
	m, err := clock.Parse(next.Today.RandomizedLoginTime)
	if err != nil {
		t.Fatal(err)
	}
	if !clock.WithinWindow(m, 10*60+30, tr.Jitter) {
		t.Fatalf("next-day jitter %v not derived from edited schedule", m)
	}
}

func TestApplyResultCountersAndLatch(t *testing.T) {
	tr := newTracker()
	u, _ := tr.ResetIfNeeded(testUser(), monday)

	u = tr.ApplyResult(u, ActionLogin, Result{Error: "portal down"}, monday)
	if u.Today.LoginAttempts != 1 || u.Today.LoginSuccess {
		t.Fatalf("after failure: %+v", u.Today)
	}
	if u.Today.LastError != "portal down" {
		t.Fatalf("last error not recorded: %+v", u.Today)
	}

	u = tr.ApplyResult(u, ActionLogin, Result{Success: true, ActualTime: "09:03"}, monday.Add(time.Minute))
	if u.Today.LoginAttempts != 2 || !u.Today.LoginSuccess {
		t.Fatalf("after success: %+v", u.Today)
	}
	if u.Today.ActualInTime != "09:03" {
		t.Fatalf("actual time not captured: %+v", u.Today)
	}

	// A later failed call never un-latches success.
	u = tr.ApplyResult(u, ActionLogin, Result{Error: "dup punch"}, monday.Add(2*time.Minute))
	if !u.Today.LoginSuccess {
		t.Fatal("success latch must be one-way")
	}
	if u.Today.LoginAttempts != 3 {
		t.Fatal("attempt counter must keep increasing")
	}
}

func TestApplyResultKeepsPriorActualTime(t *testing.T) {
	tr := newTracker()
	u, _ := tr.ResetIfNeeded(testUser(), monday)
	u = tr.ApplyResult(u, ActionLogout, Result{Success: true, ActualTime: "18:01"}, monday)
	u = tr.ApplyResult(u, ActionLogout, Result{Success: true}, monday.Add(time.Minute))
	if u.Today.ActualOutTime != "18:01" {
		t.Fatalf("omitted actual time must fall back to prior value: %+v", u.Today)
	}
}

func TestLastErrorSurvivesOtherActionSuccess(t *testing.T) {
	tr := newTracker()
	u, _ := tr.ResetIfNeeded(testUser(), monday)
	u = tr.ApplyResult(u, ActionLogin, Result{Error: "bad credentials"}, monday)
	u = tr.ApplyResult(u, ActionLogout, Result{Success: true}, monday.Add(time.Hour))
	if u.Today.LastError != "bad credentials" {
		t.Fatalf("logout success must not clear login error: %+v", u.Today)
	}
}

func TestApplyResultDefensiveReset(t *testing.T) {
	tr := newTracker()
	u, _ := tr.ResetIfNeeded(testUser(), monday)
	u = tr.ApplyResult(u, ActionLogin, Result{Success: true}, monday)

	// Caller skipped ResetIfNeeded on the next day.
	tuesday := monday.AddDate(0, 0, 1)
	u2 := tr.ApplyResult(u, ActionLogin, Result{Error: "late"}, tuesday)
	if u2.Today.Date != "2024-01-02" {
		t.Fatalf("ApplyResult must reset stale day state itself: %+v", u2.Today)
	}
	if u2.Today.LoginSuccess || u2.Today.LoginAttempts != 1 {
		t.Fatalf("counters must restart with the new day: %+v", u2.Today)
	}
}

func TestApplyResultDoesNotMutateInput(t *testing.T) {
	tr := newTracker()
	u, _ := tr.ResetIfNeeded(testUser(), monday)
	before := *u.Today
	_ = tr.ApplyResult(u, ActionLogin, Result{Success: true}, monday)
	if *u.Today != before {
		t.Fatal("ApplyResult must be copy-on-write")
	}
}

func TestUserValidate(t *testing.T) {
	u := testUser()
	if err := u.Validate(); err != nil {
		t.Fatalf("valid user rejected: %v", err)
	}

	bad := testUser()
	bad.ID = ""
	if bad.Validate() == nil {
		t.Fatal("missing id must fail")
	}

	bad = testUser()
	bad.Weekdays = []int{1, 1}
	if bad.Validate() == nil {
		t.Fatal("duplicate weekday must fail")
	}

	bad = testUser()
	bad.Weekdays = []int{0}
	if bad.Validate() == nil {
		t.Fatal("weekday 0 must fail")
	}

	bad = testUser()
	bad.LoginTime = "19:00"
	bad.LogoutTime = "18:00"
	if bad.Validate() == nil {
		t.Fatal("login after logout must fail")
	}

	bad = testUser()
	bad.LoginTime = "25:00"
	if bad.Validate() == nil {
		t.Fatal("malformed login time must fail")
	}
}
