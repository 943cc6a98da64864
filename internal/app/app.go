package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"meetflow/internal/adminapi"
	"meetflow/internal/config"
	"meetflow/internal/dedup"
	"meetflow/internal/jobs"
	"meetflow/internal/metrics"
	"meetflow/internal/notifier"
	"meetflow/internal/provider/calendar"
	"meetflow/internal/provider/mail"
	"meetflow/internal/provider/meetingbot"
	"meetflow/internal/provider/webhook"
	"meetflow/internal/queue"
	rtsup "meetflow/internal/runtime/supervisor"
	"meetflow/internal/transport/telegram"
	logx "meetflow/pkg/logx"
	"meetflow/pkg/systemd"
)

// App is the meetflowd daemon: queue consumers, the repeater, metrics,
// operator alerts and the admin API over one Core.
type App struct {
	cfgm *config.ConfigManager
	log  logx.Logger
	logs *logx.Service
	core *Core

	sup      *rtsup.Supervisor
	workers  []*queue.Worker
	repeater *queue.Repeater
	sink     metrics.Sink
	promReg  *prometheus.Registry
	notif    *notifier.Service
	admin    *adminapi.Server

	alertMu  sync.Mutex
	alertTG  telegram.Config
	stopOnce sync.Once
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	core, err := OpenCore(ctx, cfg, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a, err := build(cfg, core, root)
	if err != nil {
		_ = core.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	a.log = log
	return a, nil
}

// build wires consumers and observers over an opened Core.
func build(cfg *config.Config, core *Core, root logx.Logger) (*App, error) {
	loc, err := config.ParseLocation("schedules.timezone", cfg.Schedules.Timezone)
	if err != nil {
		return nil, err
	}
	ar, err := jobs.AutoRecordOptions(cfg)
	if err != nil {
		return nil, err
	}
	poll, err := config.ParseDurationOrDefault("queue.poll_interval", cfg.Queue.PollInterval, time.Second)
	if err != nil {
		return nil, err
	}
	repeatEvery, err := config.ParseDurationOrDefault("queue.repeat_interval", cfg.Queue.RepeatInterval, 5*time.Second)
	if err != nil {
		return nil, err
	}
	botCfg, err := mapProviderConfig("providers.meeting_bot", cfg.Providers.MeetingBot)
	if err != nil {
		return nil, err
	}
	calCfg, err := mapProviderConfig("providers.calendar", cfg.Providers.Calendar)
	if err != nil {
		return nil, err
	}
	mailCfg, err := mapProviderConfig("providers.mail", cfg.Providers.Mail.HTTPProvider)
	if err != nil {
		return nil, err
	}
	whTimeout, err := config.ParseDurationField("providers.webhook.timeout", cfg.Providers.Webhook.Timeout)
	if err != nil {
		return nil, err
	}
	whAgent := cfg.Providers.Webhook.UserAgent
	if whAgent == "" {
		whAgent = userAgent
	}

	handlers := jobs.Handlers(jobs.Deps{
		Store:    core.Store,
		Guard:    dedup.New(core.Store, root),
		Queues:   core.Registry,
		Bots:     meetingbot.New(botCfg),
		Calendar: calendar.New(calCfg),
		Mailer:   mail.New(mailCfg, cfg.Providers.Mail.From),
		Webhooks: webhook.NewSender(whTimeout, whAgent),
		Log:      root,
		Location: loc,
	}, ar)

	workers := make([]*queue.Worker, 0, len(jobs.QueueNames))
	for _, name := range jobs.QueueNames {
		workers = append(workers, core.Registry.Worker(name, handlers[name], poll))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		log:      root.With(logx.String("comp", "app")),
		core:     core,
		workers:  workers,
		repeater: queue.NewRepeater(core.Registry.Queues(), repeatEvery, loc, root),
		sink:     metrics.NewPrometheusSink(promReg, root),
		promReg:  promReg,
		notif:    notifier.New(ncfg, nil, root, core.Bus, core.Store),
	}
	if ncfg.Enabled {
		if err := a.applyAlertSender(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Admin.Enabled {
		a.admin = adminapi.NewServer(mapAdminConfig(cfg), adminapi.Deps{
			Queues:   core.Registry,
			Store:    core.Store,
			Gatherer: promReg,
			Workers:  a.workerStats,
			Alerts:   a.notif,
		}, root)
	}
	return a, nil
}

// applyAlertSender (re)builds the Telegram sender when its target changed.
func (a *App) applyAlertSender(cfg *config.Config) error {
	tc := mapTelegramConfig(cfg)
	a.alertMu.Lock()
	defer a.alertMu.Unlock()
	if tc == a.alertTG {
		return nil
	}
	sender, err := telegram.New(tc, a.log)
	if err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	a.notif.SetSender(sender)
	a.alertTG = tc
	return nil
}

func (a *App) workerStats() []queue.WorkerStats {
	out := make([]queue.WorkerStats, 0, len(a.workers))
	for _, w := range a.workers {
		out = append(out, w.Stats())
	}
	return out
}

func (a *App) Core() *Core { return a.core }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	sup := a.sup

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			_, err := mapNotifierConfig(cfg)
			return err
		})
	}

	// Registration is not transactional: a failed trigger is logged and the
	// rest keep running.
	if err := a.core.RegisterSchedules(ctx); err != nil {
		a.log.Error("recurring trigger registration incomplete", logx.Err(err))
	}

	for _, w := range a.workers {
		sup.GoRestart("worker."+w.Queue().Name(), w.Run)
	}
	if a.core.Config.Schedules.Enabled {
		sup.GoRestart("repeater", a.repeater.Run)
	}

	sup.GoRestart("metrics.observe", func(c context.Context) error {
		return metrics.Observe(c, a.core.Bus, a.sink, a.log)
	})
	sup.GoRestart("metrics.depth", func(c context.Context) error {
		return metrics.PollDepth(c, a.core.Registry, a.core.Bus, a.sink, 15*time.Second)
	})

	a.notif.Start(sup.Context())
	sup.GoRestart("alerts.watch", func(c context.Context) error {
		return a.notif.Watch(c, a.core.Bus)
	})

	if a.admin != nil {
		sup.GoRestart("admin.http", a.admin.Run, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	events, unsub := a.core.Bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			last := a.cfgm.Get()
			for {
				select {
				case <-c.Done():
					return
				case next, ok := <-sub:
					if !ok {
						return
					}
					a.applyConfig(c, last, next)
					last = next
				}
			}
		})
		sup.Go("config.watch", a.cfgm.Watch)
	}

	sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})
	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd ready notify failed", logx.Err(err))
	}
	_, _ = systemd.Status(fmt.Sprintf("consuming %d queues", len(a.workers)))
	a.log.Info("app started", logx.Int("queues", len(a.workers)), logx.Bool("schedules", a.core.Config.Schedules.Enabled))
	return nil
}

// applyConfig hot-applies logging, alerts and the schedule timezone. Other
// sections need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strs("sections", restart))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(next))
	}
	if loc, err := config.ParseLocation("schedules.timezone", next.Schedules.Timezone); err == nil {
		a.repeater.SetLocation(loc)
	}

	ncfg, err := mapNotifierConfig(next)
	if err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		if ncfg.Enabled {
			if err := a.applyAlertSender(next); err != nil {
				a.log.Warn("alerts sender not updated", logx.Err(err))
			}
		}
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("alerts disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("alerts enabled via config")
			a.notif.Start(ctx)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	var stopErr error
	a.stopOnce.Do(func() {
		a.log.Info("stopping", logx.String("reason", string(reason)))
		_, _ = systemd.Stopping()

		// Cancel first so consumers stop popping; in-flight bookkeeping uses
		// its own context.
		a.sup.Cancel()

		step := func(name string, max time.Duration, fn func(context.Context) error) {
			start := time.Now()
			stepCtx, cancel := context.WithTimeout(ctx, max)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- fn(stepCtx) }()
			select {
			case err := <-done:
				if err != nil {
					a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				}
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
			case <-stepCtx.Done():
				a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			}
		}

		step("alerts", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
		step("supervisor", 10*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
		step("core", 2*time.Second, func(context.Context) error { return a.core.Close() })

		a.log.Info("stopped")
		if a.logs != nil {
			stopErr = a.logs.Close()
		}
	})
	return stopErr
}
