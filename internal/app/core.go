package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetflow/internal/config"
	"meetflow/internal/eventbus"
	"meetflow/internal/jobs"
	"meetflow/internal/queue"
	"meetflow/internal/scheduler"
	"meetflow/internal/store"
	logx "meetflow/pkg/logx"
)

// Core is the storage and queue plumbing shared by the daemon and the
// one-shot CLI commands.
type Core struct {
	Config    *config.Config
	Log       logx.Logger
	Bus       eventbus.Bus
	Store     *store.Store
	Registry  *queue.Registry
	Scheduler *scheduler.Scheduler
}

// OpenCore connects the store and the queue broker. Close releases both.
func OpenCore(ctx context.Context, cfg *config.Config, log logx.Logger) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	settings, err := jobs.QueueSettings(cfg)
	if err != nil {
		return nil, err
	}
	dedupTTL, err := config.ParseDurationOrDefault("queue.dedup_ttl", cfg.Queue.DedupTTL, 24*time.Hour)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	broker, err := queue.OpenBroker(ctx, mapBrokerConfig(cfg))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	bus := eventbus.New()
	reg := queue.NewRegistry(broker, queue.RegistryOptions{
		Settings: settings,
		DedupTTL: dedupTTL,
		Log:      log,
		Bus:      bus,
	})
	log.Info("core opened",
		logx.String("storage", sc.Driver),
		logx.String("queue_backend", mapBrokerConfig(cfg).Backend),
		logx.Strs("queues", reg.Names()),
	)
	return &Core{
		Config:    cfg,
		Log:       log,
		Bus:       bus,
		Store:     st,
		Registry:  reg,
		Scheduler: scheduler.New(scheduler.FromRegistry(reg), log),
	}, nil
}

// RegisterSchedules upserts the configured recurring triggers. Failures are
// logged per trigger and joined; registration continues past them.
func (c *Core) RegisterSchedules(ctx context.Context) error {
	if !c.Config.Schedules.Enabled {
		c.Log.Info("schedules disabled; recurring triggers not registered")
		return nil
	}
	return c.Scheduler.RegisterAll(ctx, jobs.Triggers(c.Config))
}

func (c *Core) Close() error {
	return errors.Join(c.Registry.Close(), c.Store.Close())
}
