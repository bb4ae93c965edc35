package provider

import (
	"context"
	"sync"

	logx "punchd/pkg/logx"
)

func init() {
	Register("memory", func(_ Config, _ logx.Logger) (Provider, error) {
		return NewMemory(), nil
	})
}

// Memory is a scriptable in-process provider, used by tests and dry
// runs. Every call succeeds unless a hook says otherwise.
type Memory struct {
	mu sync.Mutex

	LoginFn  func(creds Credentials) (PunchResult, error)
	LogoutFn func(creds Credentials) (PunchResult, error)
	Healthy  bool

	Logins  []Credentials
	Logouts []Credentials
}

func NewMemory() *Memory {
	return &Memory{Healthy: true}
}

func (m *Memory) Login(_ context.Context, creds Credentials) (PunchResult, error) {
	m.mu.Lock()
	m.Logins = append(m.Logins, creds)
	fn := m.LoginFn
	m.mu.Unlock()
	if fn != nil {
		return fn(creds)
	}
	return PunchResult{Success: true}, nil
}

func (m *Memory) Logout(_ context.Context, creds Credentials) (PunchResult, error) {
	m.mu.Lock()
	m.Logouts = append(m.Logouts, creds)
	fn := m.LogoutFn
	m.mu.Unlock()
	if fn != nil {
		return fn(creds)
	}
	return PunchResult{Success: true}, nil
}

func (m *Memory) HealthCheck(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Healthy
}
