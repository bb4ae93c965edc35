package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"punchd/internal/engine"
	"punchd/internal/provider"
	"punchd/internal/punch"
	"punchd/internal/secret"
	"punchd/internal/store"
	logx "punchd/pkg/logx"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]punch.User
}

func newMemUsers() *memUsers { return &memUsers{users: map[string]punch.User{}} }

func (m *memUsers) ReadAll() ([]punch.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]punch.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memUsers) Get(id string) (punch.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return punch.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) Upsert(u punch.User) (punch.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.users[u.ID]
	if !existed {
		u.CreatedAt = time.Now()
	}
	u.UpdatedAt = time.Now()
	m.users[u.ID] = u
	return u, !existed, nil
}

func (m *memUsers) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

type memRecords struct {
	mu   sync.Mutex
	recs []punch.Record
}

func (m *memRecords) Append(_ context.Context, rec punch.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecords) Query(_ context.Context, userID string, limit int) ([]punch.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []punch.Record
	for i := len(m.recs) - 1; i >= 0; i-- {
		if userID != "" && m.recs[i].UserID != userID {
			continue
		}
		out = append(out, m.recs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memRecords) Close() error { return nil }

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) RunCycle(ctx context.Context, source engine.Source) {
	close(r.started)
	<-r.release
}

func newTestServer(t *testing.T, users UserStore, recs store.Records, runner CycleRunner) *Server {
	t.Helper()
	key, err := secret.GenerateKey()
	require.NoError(t, err)
	box, err := secret.NewBox(key)
	require.NoError(t, err)
	return New(Config{Addr: ":0"}, users, recs, box, engine.NewLock(logx.Nop()), runner, nil, logx.Nop())
}

func putJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestPutUserCreatesAndSealsPassword(t *testing.T) {
	users := newMemUsers()
	s := newTestServer(t, users, &memRecords{}, nil)

	rr := putJSON(t, s.Handler(), "/api/users/u1", putUserRequest{
		Password:   "hunter2",
		LoginTime:  "09:00",
		LogoutTime: "18:00",
		Weekdays:   []int{1, 2, 3, 4, 5},
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp userResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "u1", resp.ID)
	require.NotContains(t, rr.Body.String(), "hunter2")
	require.NotContains(t, rr.Body.String(), "password")

	stored, err := users.Get("u1")
	require.NoError(t, err)
	require.NotEmpty(t, stored.Password)
	require.NotEqual(t, "hunter2", stored.Password)

	plain, err := s.box.Open(stored.Password)
	require.NoError(t, err)
	require.Equal(t, "hunter2", plain)
}

func TestPutUserUpdateKeepsPassword(t *testing.T) {
	users := newMemUsers()
	s := newTestServer(t, users, &memRecords{}, nil)

	rr := putJSON(t, s.Handler(), "/api/users/u1", putUserRequest{
		Password: "hunter2", LoginTime: "09:00", LogoutTime: "18:00", Weekdays: []int{1},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	before, _ := users.Get("u1")

	rr = putJSON(t, s.Handler(), "/api/users/u1", putUserRequest{
		LoginTime: "10:00", LogoutTime: "19:00", Weekdays: []int{1, 2},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	after, _ := users.Get("u1")
	require.Equal(t, before.Password, after.Password)
	require.Equal(t, "10:00", after.LoginTime)
}

func TestPutUserRejectsNewUserWithoutPassword(t *testing.T) {
	s := newTestServer(t, newMemUsers(), &memRecords{}, nil)

	rr := putJSON(t, s.Handler(), "/api/users/u1", putUserRequest{
		LoginTime: "09:00", LogoutTime: "18:00", Weekdays: []int{1},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPutUserValidation(t *testing.T) {
	s := newTestServer(t, newMemUsers(), &memRecords{}, nil)

	for name, req := range map[string]putUserRequest{
		"missing weekdays": {Password: "p", LoginTime: "09:00", LogoutTime: "18:00"},
		"weekday range":    {Password: "p", LoginTime: "09:00", LogoutTime: "18:00", Weekdays: []int{8}},
		"login after out":  {Password: "p", LoginTime: "19:00", LogoutTime: "18:00", Weekdays: []int{1}},
		"bad time":         {Password: "p", LoginTime: "9am", LogoutTime: "18:00", Weekdays: []int{1}},
	} {
		rr := putJSON(t, s.Handler(), "/api/users/u1", req)
		require.Equal(t, http.StatusBadRequest, rr.Code, name)
	}
}

func TestGetAndDeleteUser(t *testing.T) {
	users := newMemUsers()
	s := newTestServer(t, users, &memRecords{}, nil)

	require.Equal(t, http.StatusNotFound, get(s.Handler(), "/api/users/u1").Code)

	putJSON(t, s.Handler(), "/api/users/u1", putUserRequest{
		Password: "p", LoginTime: "09:00", LogoutTime: "18:00", Weekdays: []int{1},
	})
	require.Equal(t, http.StatusOK, get(s.Handler(), "/api/users/u1").Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/users/u1", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	require.Equal(t, http.StatusNotFound, get(s.Handler(), "/api/users/u1").Code)
}

func TestListRecordsFiltersAndFormats(t *testing.T) {
	recs := &memRecords{}
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	_ = recs.Append(context.Background(), punch.Record{ID: "r1", UserID: "u1", Action: punch.ActionLogin, ExecutedAt: base, Success: true})
	_ = recs.Append(context.Background(), punch.Record{ID: "r2", UserID: "u2", Action: punch.ActionLogin, ExecutedAt: base.Add(time.Minute), Success: false, Error: "bad gateway"})

	s := newTestServer(t, newMemUsers(), recs, nil)

	rr := get(s.Handler(), "/api/records?user_id=u2")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp listRecordsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, "r2", resp.Records[0].ID)
	require.Equal(t, "bad gateway", resp.Records[0].Error)

	rr = get(s.Handler(), "/api/records?limit=-1")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRunCycleConflictsWhileRunning(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	s := newTestServer(t, newMemUsers(), &memRecords{}, runner)

	req := httptest.NewRequest(http.MethodPost, "/api/automation/run", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)
	<-runner.started

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/automation/run", nil))
	require.Equal(t, http.StatusConflict, rr.Code)

	status := get(s.Handler(), "/api/automation/status")
	var st statusResponse
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &st))
	require.True(t, st.Lock.Locked)
	require.Equal(t, engine.SourceManual, st.Lock.Source)

	close(runner.release)
	require.Eventually(t, func() bool {
		return !s.lock.Status().Locked
	}, time.Second, 5*time.Millisecond)
}

func TestHealthWithoutProvider(t *testing.T) {
	s := newTestServer(t, newMemUsers(), &memRecords{}, nil)
	rr := get(s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
}

type healthProvider struct {
	provider.Provider
	healthy bool
}

func (p *healthProvider) HealthCheck(context.Context) bool { return p.healthy }

func TestHealthFollowsProviderSwap(t *testing.T) {
	// Config reloads replace the portal client; the probe must report
	// on the current one, not the instance held at construction.
	cur := &healthProvider{healthy: false}
	s := newTestServer(t, newMemUsers(), &memRecords{}, nil)
	s.prov = func() provider.Provider { return cur }

	rr := get(s.Handler(), "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "degraded")

	cur = &healthProvider{healthy: true}
	rr = get(s.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "ok")
}
