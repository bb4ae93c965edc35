package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"punchd/internal/clock"
)

type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	HTTP       HTTPConfig       `json:"http"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Storage    StorageConfig    `json:"storage"`
	Provider   ProviderConfig   `json:"provider"`
	Secret     SecretConfig     `json:"secret"`
	Automation AutomationConfig `json:"automation"`
	Notify     *NotifyConfig    `json:"notify,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8484"
	// RequestsPerMinute caps API calls per client IP. 0 disables.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
	// Server timeouts (Go duration strings).
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// SchedulerConfig controls the automation tick.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Tick is a cron spec or "@every <dur>" expression. Default: "@every 1m".
	Tick string `json:"tick,omitempty"`
	// Timezone is the IANA zone schedules are evaluated in (e.g.
	// "Asia/Jakarta"). Empty means the host zone.
	Timezone    string `json:"timezone,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// StorageConfig locates the user file and the attendance log.
type StorageConfig struct {
	// UsersPath is the JSON file holding user schedules and day state.
	UsersPath string `json:"users_path"`

	// Records backend: "file" (jsonl, default) or "sqlite".
	RecordsDriver string `json:"records_driver,omitempty"`
	RecordsPath   string `json:"records_path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// RecordsMaxAge prunes file-backed entries older than this during
	// compaction. "0s" keeps everything.
	RecordsMaxAge string `json:"records_max_age,omitempty"`
}

type ProviderConfig struct {
	Name    string `json:"name"`     // e.g. "httpportal"
	BaseURL string `json:"base_url"` // portal root, no trailing slash
	Timeout string `json:"timeout,omitempty"`
}

// SecretConfig names the environment variable that carries the
// base64-encoded credential key. The key itself never appears in the
// config file.
type SecretConfig struct {
	KeyEnv string `json:"key_env,omitempty"` // default: "PUNCHD_SECRET_KEY"
}

// AutomationConfig tunes eligibility and execution. Zero values fall
// back to the engine defaults.
type AutomationConfig struct {
	WindowMinutes     int `json:"window_minutes,omitempty"`
	JitterMinutes     int `json:"jitter_minutes,omitempty"`
	RetryHorizonHours int `json:"retry_horizon_hours,omitempty"`
	MaxDayAttempts    int `json:"max_day_attempts,omitempty"`

	// EmergencyStart/End are wall-clock "HH:MM" strings.
	EmergencyStart string `json:"emergency_start,omitempty"`
	EmergencyEnd   string `json:"emergency_end,omitempty"`

	ExecAttempts   int    `json:"exec_attempts,omitempty"`
	ExecRetryDelay string `json:"exec_retry_delay,omitempty"` // Go duration string
}

type NotifyConfig struct {
	Enabled      bool   `json:"enabled"`
	Token        string `json:"token"`
	ChatID       int64  `json:"chat_id"`
	MaxPerMinute int    `json:"max_per_minute,omitempty"`
}

const (
	DefaultHTTPAddr = "127.0.0.1:8484"
	DefaultTick     = "@every 1m"
	DefaultKeyEnv   = "PUNCHD_SECRET_KEY"
)

// Validate checks everything that must parse before the config can be
// committed. It is also the Watch() validator, so a broken edit never
// replaces a good running config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.UsersPath) == "" {
		return errors.New("storage.users_path is required")
	}
	if strings.TrimSpace(c.Storage.RecordsPath) == "" {
		return errors.New("storage.records_path is required")
	}
	if strings.TrimSpace(c.Provider.Name) == "" {
		return errors.New("provider.name is required")
	}

	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"storage.records_max_age", c.Storage.RecordsMaxAge},
		{"provider.timeout", c.Provider.Timeout},
		{"automation.exec_retry_delay", c.Automation.ExecRetryDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"automation.emergency_start", c.Automation.EmergencyStart},
		{"automation.emergency_end", c.Automation.EmergencyEnd},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		if _, err := clock.Parse(f.raw); err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
	}

	if n := c.Automation.MaxDayAttempts; n < 0 {
		return errors.New("automation.max_day_attempts must be >= 0")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		// Existence of the zone is checked at load by the scheduler,
		// which also handles a later removal of tzdata gracefully.
		if strings.ContainsAny(tz, " \t") {
			return fmt.Errorf("scheduler.timezone: invalid zone %q", tz)
		}
	}
	if c.Notify != nil && c.Notify.Enabled {
		if strings.TrimSpace(c.Notify.Token) == "" {
			return errors.New("notify.token is required when notify is enabled")
		}
		if c.Notify.ChatID == 0 {
			return errors.New("notify.chat_id is required when notify is enabled")
		}
	}
	return nil
}

// KeyEnv returns the configured or default secret key variable name.
func (c *Config) KeyEnv() string {
	if v := strings.TrimSpace(c.Secret.KeyEnv); v != "" {
		return v
	}
	return DefaultKeyEnv
}

// Address returns the configured or default HTTP listen address.
func (c *HTTPConfig) Address() string {
	if v := strings.TrimSpace(c.Addr); v != "" {
		return v
	}
	return DefaultHTTPAddr
}

// TickSpec returns the configured or default scheduler tick.
func (c *SchedulerConfig) TickSpec() string {
	if v := strings.TrimSpace(c.Tick); v != "" {
		return v
	}
	return DefaultTick
}

// Timeout and delay knobs are Go duration strings ("90s", "2m").
// ParseDurationField resolves one; empty means unset and maps to
// zero, leaving the default choice to the caller. name labels the
// knob in error messages.
func ParseDurationField(name, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", name)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def for an unset knob.
func ParseDurationOrDefault(name, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(name, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
