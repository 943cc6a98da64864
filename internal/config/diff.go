package config

import (
	"reflect"
	"sort"
	"strings"

	logx "meetflow/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{"storage": true, "queue": true, "providers": true, "admin": true}

// SummarizeConfigChange returns the changed top-level sections, safe
// structured attrs for logging (never secrets), and the sections that need a
// restart to take effect.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.String("queue.backend", newCfg.Queue.Backend),
			logx.Bool("queue.redis_url_set", strings.TrimSpace(newCfg.Queue.RedisURL) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Queues, newCfg.Queues) {
		changed = append(changed, "queues")
		names := make([]string, 0, len(newCfg.Queues))
		for n := range newCfg.Queues {
			names = append(names, n)
		}
		sort.Strings(names)
		attrs = append(attrs, logx.Strs("queues.configured", names))
	}
	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs,
			logx.Bool("schedules.enabled", newCfg.Schedules.Enabled),
			logx.String("schedules.timezone", newCfg.Schedules.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.AutoRecord, newCfg.AutoRecord) {
		changed = append(changed, "auto_record")
		attrs = append(attrs,
			logx.String("auto_record.window_before", newCfg.AutoRecord.WindowBefore),
			logx.String("auto_record.window_after", newCfg.AutoRecord.WindowAfter),
			logx.String("auto_record.join_lead", newCfg.AutoRecord.JoinLead),
		)
	}
	// Providers carry API keys: compare, but only log base URLs.
	if !reflect.DeepEqual(oldCfg.Providers, newCfg.Providers) {
		changed = append(changed, "providers")
		attrs = append(attrs,
			logx.String("providers.meeting_bot", newCfg.Providers.MeetingBot.BaseURL),
			logx.String("providers.calendar", newCfg.Providers.Calendar.BaseURL),
			logx.String("providers.mail", newCfg.Providers.Mail.BaseURL),
		)
	}
	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.Addr),
			logx.Bool("admin.token_set", newCfg.Admin.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		a := newCfg.Alerts
		attrs = append(attrs, logx.Bool("alerts.enabled", a != nil && a.Enabled))
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
