package jobs

import (
	"fmt"
	"strings"
	"time"

	"meetflow/internal/config"
	"meetflow/internal/queue"
	"meetflow/internal/scheduler"
)

// Built-in cadences of the recurring triggers.
const (
	DefaultAutoRecordCadence   = "*/5 * * * *"
	DefaultCalendarSyncCadence = "*/15 * * * *"
	DefaultWeeklyDigestCadence = "0 9 * * 1"
)

var defaultSettings = map[string]queue.Settings{
	QueueAutoRecord: {
		Concurrency: 1,
		Timeout:     2 * time.Minute,
		Defaults:    jobDefaults(3, time.Second),
	},
	QueueCalendarSync: {
		Concurrency: 5,
		RatePerSec:  10,
		Timeout:     2 * time.Minute,
		Defaults:    jobDefaults(3, time.Second),
	},
	QueueWeeklyDigest: {
		Concurrency: 1,
		Timeout:     5 * time.Minute,
		Defaults:    jobDefaults(3, 30*time.Second),
	},
	QueueEmail: {
		Concurrency: 5,
		Timeout:     30 * time.Second,
		Defaults:    jobDefaults(5, 5*time.Second),
	},
	QueueWebhooks: {
		Concurrency: 5,
		Timeout:     30 * time.Second,
		Defaults:    jobDefaults(8, 5*time.Second),
	},
}

func jobDefaults(attempts int, delay time.Duration) queue.Options {
	return queue.Options{
		Attempts:         attempts,
		Backoff:          queue.Backoff{Type: queue.BackoffExponential, Delay: delay, Jitter: 0.2},
		RemoveOnComplete: 100,
		RemoveOnFail:     500,
	}
}

// QueueSettings merges the queues section of cfg over the built-in
// per-queue defaults.
func QueueSettings(cfg *config.Config) (map[string]queue.Settings, error) {
	out := make(map[string]queue.Settings, len(defaultSettings))
	for name, s := range defaultSettings {
		out[name] = s
	}
	if cfg == nil {
		return out, nil
	}
	for name, qs := range cfg.Queues {
		s := out[name]
		p := "queues." + name
		if qs.Concurrency > 0 {
			s.Concurrency = qs.Concurrency
		}
		if qs.RatePerSec > 0 {
			s.RatePerSec = qs.RatePerSec
		}
		if qs.Attempts > 0 {
			s.Defaults.Attempts = qs.Attempts
		}
		d, err := config.ParseDurationOrDefault(p+".backoff", qs.Backoff, s.Defaults.Backoff.Delay)
		if err != nil {
			return nil, err
		}
		s.Defaults.Backoff.Delay = d
		switch strings.ToLower(strings.TrimSpace(qs.BackoffType)) {
		case "":
		case string(queue.BackoffFixed):
			s.Defaults.Backoff.Type = queue.BackoffFixed
		case string(queue.BackoffExponential):
			s.Defaults.Backoff.Type = queue.BackoffExponential
		default:
			return nil, fmt.Errorf("%s.backoff_type: unsupported %q", p, qs.BackoffType)
		}
		if s.Timeout, err = config.ParseDurationOrDefault(p+".timeout", qs.Timeout, s.Timeout); err != nil {
			return nil, err
		}
		if qs.RemoveOnComplete > 0 {
			s.Defaults.RemoveOnComplete = qs.RemoveOnComplete
		}
		if qs.RemoveOnFail > 0 {
			s.Defaults.RemoveOnFail = qs.RemoveOnFail
		}
		out[name] = s
	}
	return out, nil
}

// Triggers returns the recurring triggers configured in cfg.
func Triggers(cfg *config.Config) []scheduler.Trigger {
	sc := config.SchedulesConfig{}
	if cfg != nil {
		sc = cfg.Schedules
	}
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return []scheduler.Trigger{
		{
			Queue:    QueueAutoRecord,
			Name:     TriggerAutoRecord,
			JobName:  JobScanAutoRecord,
			Cadence:  pick(sc.AutoRecord, DefaultAutoRecordCadence),
			Timezone: sc.Timezone,
		},
		{
			Queue:    QueueCalendarSync,
			Name:     TriggerCalendarSync,
			JobName:  JobSyncCalendars,
			Cadence:  pick(sc.CalendarSync, DefaultCalendarSyncCadence),
			Timezone: sc.Timezone,
		},
		{
			Queue:    QueueWeeklyDigest,
			Name:     TriggerWeeklyDigest,
			JobName:  JobWeeklyDigest,
			Cadence:  pick(sc.WeeklyDigest, DefaultWeeklyDigestCadence),
			Timezone: sc.Timezone,
		},
	}
}

// AutoRecordOptions reads the auto_record section.
func AutoRecordOptions(cfg *config.Config) (AutoRecordConfig, error) {
	out := AutoRecordConfig{
		WindowBefore: 2 * time.Minute,
		WindowAfter:  10 * time.Minute,
		JoinLead:     time.Minute,
		BotName:      "Meetflow Notetaker",
	}
	if cfg == nil {
		return out, nil
	}
	ar := cfg.AutoRecord
	var err error
	if out.WindowBefore, err = config.ParseDurationOrDefault("auto_record.window_before", ar.WindowBefore, out.WindowBefore); err != nil {
		return out, err
	}
	if out.WindowAfter, err = config.ParseDurationOrDefault("auto_record.window_after", ar.WindowAfter, out.WindowAfter); err != nil {
		return out, err
	}
	if out.JoinLead, err = config.ParseDurationOrDefault("auto_record.join_lead", ar.JoinLead, out.JoinLead); err != nil {
		return out, err
	}
	if strings.TrimSpace(ar.BotName) != "" {
		out.BotName = ar.BotName
	}
	return out, nil
}
