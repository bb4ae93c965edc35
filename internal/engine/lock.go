package engine

import (
	"sync"
	"time"

	logx "punchd/pkg/logx"
)

// Source identifies which trigger path holds the run lock.
type Source string

const (
	SourceCron   Source = "cron"
	SourceManual Source = "manual"
)

// LockStatus is a point-in-time snapshot of the run lock.
type LockStatus struct {
	Locked    bool      `json:"locked"`
	Source    Source    `json:"source,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Lock is the single-slot gate serializing automation cycles. It is
// cooperative and not re-entrant: TryAcquire fails while held, even for
// the same source. It never expires on its own; a crash while holding
// it is an operator-visible bug, not something to auto-heal.
//
// Constructed once per process and injected, so tests get isolated
// instances.
type Lock struct {
	log logx.Logger

	mu      sync.Mutex
	held    bool
	source  Source
	started time.Time
}

func NewLock(log logx.Logger) *Lock {
	return &Lock{log: log}
}

// TryAcquire claims the slot. It returns false without mutation when
// the lock is already held by anyone.
func (l *Lock) TryAcquire(source Source) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	l.source = source
	l.started = time.Now()
	return true
}

// Release clears the slot. Releasing an unheld lock is a bug in the
// caller but only warrants a warning.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		l.log.Warn("run lock released while not held")
		return
	}
	l.held = false
	l.source = ""
	l.started = time.Time{}
}

// Status reports the current holder, if any.
func (l *Lock) Status() LockStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LockStatus{Locked: l.held, Source: l.source, StartedAt: l.started}
}
