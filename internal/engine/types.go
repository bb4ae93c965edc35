package engine

import (
	"context"
	"time"

	"punchd/internal/clock"
	"punchd/internal/punch"
)

// UserStore is the slice of the user store the engine needs.
type UserStore interface {
	ReadAll() ([]punch.User, error)
	WriteAll(users []punch.User) error
	Update(id string, fn func(punch.User) punch.User) (punch.User, error)
}

// RecordStore receives one attendance entry per executed action.
type RecordStore interface {
	Append(ctx context.Context, rec punch.Record) error
}

// Decrypter opens an opaque credential blob. Plaintext lives only for
// the duration of one action.
type Decrypter interface {
	Open(blob string) (string, error)
}

// Notifier receives human-facing alerts about failed or unusual
// punches. Implementations must be non-blocking; nil means no alerts.
type Notifier interface {
	Alert(ctx context.Context, text string)
}

// Config carries the scheduling knobs shared by the eligibility engine
// and the executor.
type Config struct {
	// WindowMinutes is the tolerance window around a jittered target.
	WindowMinutes int
	// JitterMinutes is the +/- randomization applied to scheduled times
	// once per day.
	JitterMinutes int
	// RetryHorizonHours bounds the second login tier: past the jittered
	// time but within this many hours, retries respect MaxDayAttempts.
	// Beyond the horizon the engine retries every cycle, uncapped.
	RetryHorizonHours int
	// MaxDayAttempts caps login attempts within the bounded horizon.
	MaxDayAttempts int

	// EmergencyStart..EmergencyEnd is the end-of-day range in which
	// logout is attempted unconditionally. EmergencyStart is also the
	// hard cutoff past which login attempts stop.
	EmergencyStart clock.Minutes
	EmergencyEnd   clock.Minutes

	// ExecAttempts and ExecRetryDelay drive the executor's inner loop
	// for one eligible action within one cycle.
	ExecAttempts   int
	ExecRetryDelay time.Duration
}

// DefaultConfig mirrors the knobs of the original deployment.
func DefaultConfig() Config {
	return Config{
		WindowMinutes:     6,
		JitterMinutes:     5,
		RetryHorizonHours: 2,
		MaxDayAttempts:    10,
		EmergencyStart:    22 * 60,     // 22:00
		EmergencyEnd:      22*60 + 50,  // 22:50
		ExecAttempts:      3,
		ExecRetryDelay:    5 * time.Second,
	}
}

// Decision is one (user, action) pair the current cycle must execute.
// ScheduledTime is the jittered target the decision was made against.
type Decision struct {
	User          punch.User
	Action        punch.Action
	ScheduledTime string
}
