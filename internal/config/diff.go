package config

import (
	"reflect"
	"strings"

	logx "punchd/pkg/logx"
)

// SummarizeChange returns the changed top-level sections plus safe
// structured attrs for the reload log line. Secrets (the notify token,
// the key env contents) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Address()),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick", newCfg.Scheduler.TickSpec()),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.records_driver", newCfg.Storage.RecordsDriver),
		)
	}

	if oldCfg.Provider != newCfg.Provider {
		changed = append(changed, "provider")
		attrs = append(attrs,
			logx.String("provider.name", newCfg.Provider.Name),
			logx.String("provider.base_url", newCfg.Provider.BaseURL),
		)
	}

	if oldCfg.Automation != newCfg.Automation {
		changed = append(changed, "automation")
		attrs = append(attrs,
			logx.Int("automation.window_minutes", newCfg.Automation.WindowMinutes),
			logx.Int("automation.max_day_attempts", newCfg.Automation.MaxDayAttempts),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		enabled := newCfg.Notify != nil && newCfg.Notify.Enabled
		attrs = append(attrs, logx.Bool("notify.enabled", enabled))
	}

	return changed, attrs
}
