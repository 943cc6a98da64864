package app

import (
	"strings"
	"time"

	"meetflow/internal/adminapi"
	"meetflow/internal/config"
	"meetflow/internal/notifier"
	"meetflow/internal/provider"
	"meetflow/internal/queue"
	"meetflow/internal/store"
	"meetflow/internal/transport/telegram"
	logx "meetflow/pkg/logx"
)

const userAgent = "meetflow/1"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
		MaxConns:    cfg.Storage.MaxConns,
	}, nil
}

func mapBrokerConfig(cfg *config.Config) queue.BrokerConfig {
	prefix := strings.TrimSpace(cfg.Queue.Prefix)
	if prefix == "" {
		prefix = "meetflow"
	}
	return queue.BrokerConfig{Backend: cfg.Queue.Backend, RedisURL: cfg.Queue.RedisURL, Prefix: prefix}
}

func mapProviderConfig(path string, p config.HTTPProvider) (provider.Config, error) {
	timeout, err := config.ParseDurationField(path+".timeout", p.Timeout)
	if err != nil {
		return provider.Config{}, err
	}
	return provider.Config{BaseURL: p.BaseURL, APIKey: p.APIKey, Timeout: timeout, UserAgent: userAgent}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	a := cfg.Alerts
	if a == nil || !a.Enabled {
		return notifier.Config{}, nil
	}
	window, err := config.ParseDurationOrDefault("alerts.dedup_window", a.DedupWindow, 30*time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	retry := a.RetryMax
	if retry == 0 {
		retry = 2
	}
	return notifier.Config{
		Enabled:      true,
		Workers:      1,
		QueueSize:    a.QueueSize,
		RatePerSec:   a.RatePerSec,
		RetryMax:     retry,
		DedupWindow:  window,
		PersistDedup: true,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	a := cfg.Alerts
	if a == nil {
		return telegram.Config{}
	}
	return telegram.Config{Token: a.Token, ChatID: a.ChatID, ThreadID: a.ThreadID}
}

func mapAdminConfig(cfg *config.Config) adminapi.Config {
	return adminapi.Config{Addr: cfg.Admin.Addr, Token: cfg.Admin.Token, Pprof: cfg.Admin.Pprof}
}
