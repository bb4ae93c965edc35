// Package clock implements wall-clock minute arithmetic for punch
// scheduling: HH:MM parsing, circular (midnight-wrapping) window
// membership, and per-day jitter.
//
// All checks operate on minute offsets since midnight so eligibility
// logic stays pure and trivially testable.
package clock

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFormat reports a malformed or out-of-range HH:MM string.
var ErrInvalidFormat = errors.New("invalid time format")

// minutesPerDay is the size of the circular clock domain.
const minutesPerDay = 24 * 60

// Minutes is a wall-clock offset since midnight in [0,1439].
type Minutes int

// Parse converts "HH:MM" (24-hour) to Minutes.
// Hours outside 0-23 or minutes outside 0-59 fail with ErrInvalidFormat.
func Parse(s string) (Minutes, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q, expected HH:MM", ErrInvalidFormat, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidFormat, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidFormat, s)
	}
	return Minutes(h*60 + m), nil
}

// String renders the offset back as zero-padded "HH:MM".
func (m Minutes) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// FromTime extracts the minute-of-day of t in its own location.
func FromTime(t time.Time) Minutes {
	return Minutes(t.Hour()*60 + t.Minute())
}

// WithinWindow reports whether the circular distance between cur and
// target is at most window minutes. Distance wraps across midnight:
// 23:59 and 00:01 are two minutes apart.
func WithinWindow(cur, target Minutes, window int) bool {
	d := int(cur) - int(target)
	if d < 0 {
		d = -d
	}
	if wrapped := minutesPerDay - d; wrapped < d {
		d = wrapped
	}
	return d <= window
}

// After reports whether cur is strictly later than sched on the same
// day. No wraparound: callers must ensure same-day semantics.
func After(cur, sched Minutes) bool {
	return cur > sched
}

// WithinHoursAfter reports whether cur is strictly after sched and the
// forward (non-wrapping) difference is at most hours.
func WithinHoursAfter(cur, sched Minutes, hours int) bool {
	return cur > sched && int(cur)-int(sched) <= hours*60
}

// Between reports whether cur lies in [start, end], inclusive and
// non-wrapping.
func Between(cur, start, end Minutes) bool {
	return cur >= start && cur <= end
}

// Randomize applies a uniform integer offset in [-window, +window] to
// base, wrapping across midnight. Callers materialize the result once
// per user per day; recomputing it every cycle would move the target
// every minute and defeat the jitter.
func Randomize(base Minutes, window int, rng *rand.Rand) Minutes {
	if window <= 0 {
		return base
	}
	off := rng.Intn(2*window+1) - window
	m := (int(base) + off) % minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return Minutes(m)
}

// DayOfWeek returns the ISO weekday of t, Monday=1 .. Sunday=7.
// Go's native convention is Sunday=0, which must be remapped.
func DayOfWeek(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// Date renders the calendar date of t as "YYYY-MM-DD" (the daily reset
// key).
func Date(t time.Time) string {
	return t.Format("2006-01-02")
}
