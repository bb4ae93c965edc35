package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"punchd/internal/provider"
	"punchd/internal/punch"
	logx "punchd/pkg/logx"
)

func newTestExecutor(st *memStore, prov provider.Provider) *Executor {
	cfg := testConfig()
	cfg.ExecAttempts = 3
	cfg.ExecRetryDelay = time.Millisecond
	tr := &punch.Tracker{Jitter: cfg.JitterMinutes, Rng: rand.New(rand.NewSource(9))}
	x := NewExecutor(cfg, prov, st, tr, plainBox{}, logx.Nop())
	x.nowFn = func() time.Time { return at("09:01") }
	x.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return x
}

func TestExecuteSuccessUpdatesStatus(t *testing.T) {
	st := &memStore{users: []punch.User{dayUser("u1")}}
	prov := provider.NewMemory()
	prov.LoginFn = func(creds provider.Credentials) (provider.PunchResult, error) {
		return provider.PunchResult{Success: true, ActualTime: "09:02"}, nil
	}

	res, err := newTestExecutor(st, prov).Execute(context.Background(), st.get("u1"), punch.ActionLogin)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}

	u := st.get("u1")
	if !u.Today.LoginSuccess || u.Today.LoginAttempts != 1 || u.Today.ActualInTime != "09:02" {
		t.Fatalf("status not updated: %+v", u.Today)
	}
	if len(prov.Logins) != 1 || prov.Logins[0].Password != "pw-u1" {
		t.Fatalf("provider must get decrypted credentials: %+v", prov.Logins)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	st := &memStore{users: []punch.User{dayUser("u1")}}
	prov := provider.NewMemory()
	calls := 0
	prov.LoginFn = func(creds provider.Credentials) (provider.PunchResult, error) {
		calls++
		if calls < 3 {
			return provider.PunchResult{Success: false, Message: "flaky portal"}, nil
		}
		return provider.PunchResult{Success: true}, nil
	}

	res, err := newTestExecutor(st, prov).Execute(context.Background(), st.get("u1"), punch.ActionLogin)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || calls != 3 {
		t.Fatalf("expected success on attempt 3, got %+v after %d calls", res, calls)
	}
}

func TestExecuteExhaustsRetriesAndPersistsFailure(t *testing.T) {
	st := &memStore{users: []punch.User{dayUser("u1")}}
	prov := provider.NewMemory()
	prov.LogoutFn = func(creds provider.Credentials) (provider.PunchResult, error) {
		return provider.PunchResult{}, errors.New("session expired")
	}

	res, err := newTestExecutor(st, prov).Execute(context.Background(), st.get("u1"), punch.ActionLogout)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Error != "session expired" {
		t.Fatalf("expected final failure: %+v", res)
	}
	if len(prov.Logouts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(prov.Logouts))
	}

	u := st.get("u1")
	if u.Today.LogoutAttempts != 1 || u.Today.LogoutSuccess {
		t.Fatalf("one persisted failure expected: %+v", u.Today)
	}
	if u.Today.LastError != "session expired" {
		t.Fatalf("last error not recorded: %+v", u.Today)
	}
}

func TestExecuteDecryptFailureShortCircuits(t *testing.T) {
	u := dayUser("u1")
	u.Password = "unreadable"
	st := &memStore{users: []punch.User{u}}
	prov := provider.NewMemory()

	res, err := newTestExecutor(st, prov).Execute(context.Background(), st.get("u1"), punch.ActionLogin)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("decrypt failure must fail the action: %+v", res)
	}
	if len(prov.Logins) != 0 {
		t.Fatal("provider must not be called without credentials")
	}
	if got := st.get("u1"); got.Today.LoginAttempts != 1 {
		t.Fatalf("failure must still be recorded: %+v", got.Today)
	}
}

func TestExecuteHealthCheckFailureShortCircuits(t *testing.T) {
	st := &memStore{users: []punch.User{dayUser("u1")}}
	prov := provider.NewMemory()
	prov.Healthy = false

	res, err := newTestExecutor(st, prov).Execute(context.Background(), st.get("u1"), punch.ActionLogin)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("unreachable portal must fail immediately")
	}
	if len(prov.Logins) != 0 {
		t.Fatal("no punch attempts without connectivity")
	}
}

func TestExecuteProviderPanicIsContained(t *testing.T) {
	st := &memStore{users: []punch.User{dayUser("u1")}}
	prov := provider.NewMemory()
	prov.LoginFn = func(creds provider.Credentials) (provider.PunchResult, error) {
		panic("browser crashed")
	}

	res, err := newTestExecutor(st, prov).Execute(context.Background(), st.get("u1"), punch.ActionLogin)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("panic must become a failed result: %+v", res)
	}
}

func TestExecutePersistenceFailurePropagates(t *testing.T) {
	st := &memStore{users: []punch.User{dayUser("u1")}}
	prov := provider.NewMemory()
	u := st.get("u1")
	st.failWrit = true

	if _, err := newTestExecutor(st, prov).Execute(context.Background(), u, punch.ActionLogin); err == nil {
		t.Fatal("status write failure is a correctness issue and must propagate")
	}
}
