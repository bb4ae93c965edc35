// Package provider defines the portal capability punchd automates
// against, plus a named registry so the concrete implementation is
// selected by configuration instead of being hardcoded at call sites.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	logx "punchd/pkg/logx"
)

// Credentials are the decrypted portal credentials for one call. They
// must never be cached beyond the action's lifetime.
type Credentials struct {
	UserID   string
	Password string
}

// PunchResult is the portal's answer to one punch attempt. Failures
// surface as Success=false (optionally with Message), never as panics.
type PunchResult struct {
	Success    bool
	ActualTime string // portal-reported punch time, "HH:MM" when known
	Message    string
}

// Provider is the portal capability: it logs a user in or out and
// reports connectivity.
type Provider interface {
	Login(ctx context.Context, creds Credentials) (PunchResult, error)
	Logout(ctx context.Context, creds Credentials) (PunchResult, error)
	HealthCheck(ctx context.Context) bool
}

// Config selects and parameterizes a provider implementation.
type Config struct {
	Name    string
	BaseURL string
	Timeout time.Duration
}

// Factory builds a provider from config.
type Factory func(cfg Config, log logx.Logger) (Provider, error)

var (
	regMu     sync.Mutex
	factories = map[string]Factory{}
)

// Register makes a provider implementation available under name.
// Called from implementation init() funcs.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[name] = f
}

// New constructs the provider named in cfg.
func New(cfg Config, log logx.Logger) (Provider, error) {
	regMu.Lock()
	f, ok := factories[cfg.Name]
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	regMu.Unlock()

	if !ok {
		sort.Strings(names)
		return nil, fmt.Errorf("unknown provider %q (registered: %v)", cfg.Name, names)
	}
	return f(cfg, log)
}
