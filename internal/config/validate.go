package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	logx "meetflow/pkg/logx"
)

// Validate checks the parts of the config that can be checked without
// touching the network. It is also the hot-reload gate.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "sqlite", "sqlite3", "postgres", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required"))
		}
	default:
		add(fmt.Errorf("storage.driver: unsupported %q (use sqlite or postgres)", c.Storage.Driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	switch strings.ToLower(strings.TrimSpace(c.Queue.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Queue.RedisURL) == "" {
			add(errors.New("queue.redis_url is required for the redis backend"))
		}
	default:
		add(fmt.Errorf("queue.backend: unsupported %q (use memory or redis)", c.Queue.Backend))
	}
	dur("queue.poll_interval", c.Queue.PollInterval)
	dur("queue.repeat_interval", c.Queue.RepeatInterval)
	dur("queue.dedup_ttl", c.Queue.DedupTTL)

	for name, qs := range c.Queues {
		p := "queues." + name
		if qs.Concurrency < 0 || qs.RatePerSec < 0 || qs.Attempts < 0 || qs.RemoveOnComplete < 0 || qs.RemoveOnFail < 0 {
			add(fmt.Errorf("%s: numeric settings must be >= 0", p))
		}
		switch strings.ToLower(strings.TrimSpace(qs.BackoffType)) {
		case "", "exponential", "fixed":
		default:
			add(fmt.Errorf("%s.backoff_type: unsupported %q", p, qs.BackoffType))
		}
		dur(p+".backoff", qs.Backoff)
		dur(p+".timeout", qs.Timeout)
	}

	_, err := ParseLocation("schedules.timezone", c.Schedules.Timezone)
	add(err)

	dur("auto_record.window_before", c.AutoRecord.WindowBefore)
	dur("auto_record.window_after", c.AutoRecord.WindowAfter)
	dur("auto_record.join_lead", c.AutoRecord.JoinLead)

	for path, p := range map[string]HTTPProvider{
		"providers.meeting_bot": c.Providers.MeetingBot,
		"providers.calendar":    c.Providers.Calendar,
		"providers.mail":        c.Providers.Mail.HTTPProvider,
	} {
		if raw := strings.TrimSpace(p.BaseURL); raw != "" {
			if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
				add(fmt.Errorf("%s.base_url: invalid %q", path, raw))
			}
		}
		dur(path+".timeout", p.Timeout)
	}
	dur("providers.webhook.timeout", c.Providers.Webhook.Timeout)

	if c.Alerts != nil && c.Alerts.Enabled {
		if strings.TrimSpace(c.Alerts.Token) == "" || c.Alerts.ChatID == 0 {
			add(errors.New("alerts: token and chat_id are required when enabled"))
		}
		if c.Alerts.RatePerSec < 0 || c.Alerts.RetryMax < 0 || c.Alerts.QueueSize < 0 {
			add(errors.New("alerts: numeric settings must be >= 0"))
		}
		dur("alerts.dedup_window", c.Alerts.DedupWindow)
	}
	return errors.Join(errs...)
}
