package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"meetflow/internal/eventbus"
	logx "meetflow/pkg/logx"
)

// Settings configure one named queue: consumer limits plus job defaults.
type Settings struct {
	Concurrency int
	// RatePerSec > 0 installs a token-bucket limiter on the consumer.
	RatePerSec int
	Timeout    time.Duration
	Defaults   Options
}

// BrokerConfig selects and connects the broker.
type BrokerConfig struct {
	Backend  string // memory | redis
	RedisURL string
	Prefix   string
}

// OpenBroker connects the configured backend.
func OpenBroker(ctx context.Context, cfg BrokerConfig) (Broker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryBroker(), nil
	case "redis":
		rdb, err := ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return NewRedisBroker(rdb, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// Registry is the process-wide owner of the broker and its named queues.
// Build it once at startup, inject it, Close it on shutdown.
type Registry struct {
	broker   Broker
	settings map[string]Settings
	dedupTTL time.Duration
	log      logx.Logger
	bus      eventbus.Bus

	mu     sync.Mutex
	queues map[string]*Queue
}

type RegistryOptions struct {
	Settings map[string]Settings
	// DedupTTL is how long an explicit job id stays reserved (default 24h).
	DedupTTL time.Duration
	Log      logx.Logger
	Bus      eventbus.Bus
}

func NewRegistry(b Broker, opt RegistryOptions) *Registry {
	if opt.DedupTTL <= 0 {
		opt.DedupTTL = 24 * time.Hour
	}
	settings := make(map[string]Settings, len(opt.Settings))
	for k, v := range opt.Settings {
		settings[k] = v
	}
	return &Registry{
		broker:   b,
		settings: settings,
		dedupTTL: opt.DedupTTL,
		log:      opt.Log.With(logx.String("comp", "queue")),
		bus:      opt.Bus,
		queues:   map[string]*Queue{},
	}
}

func (r *Registry) Broker() Broker { return r.broker }

// Queue returns the named queue, creating it on first use.
func (r *Registry) Queue(name string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q := r.queues[name]; q != nil {
		return q
	}
	q := newQueue(name, r.broker, r.settings[name].Defaults, r.dedupTTL, r.log, r.bus)
	r.queues[name] = q
	return q
}

// Names lists every configured queue name, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	seen := map[string]bool{}
	for n := range r.settings {
		seen[n] = true
	}
	for n := range r.queues {
		seen[n] = true
	}
	r.mu.Unlock()
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Queues returns every configured queue.
func (r *Registry) Queues() []*Queue {
	names := r.Names()
	out := make([]*Queue, 0, len(names))
	for _, n := range names {
		out = append(out, r.Queue(n))
	}
	return out
}

func (r *Registry) Settings(name string) Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings[name]
}

// Worker builds a consumer for the named queue from its settings.
func (r *Registry) Worker(name string, h Handler, pollInterval time.Duration) *Worker {
	s := r.Settings(name)
	opt := WorkerOptions{
		Concurrency:  s.Concurrency,
		PollInterval: pollInterval,
		Timeout:      s.Timeout,
	}
	if s.RatePerSec > 0 {
		opt.Limiter = rate.NewLimiter(rate.Limit(s.RatePerSec), s.RatePerSec)
	}
	return NewWorker(r.Queue(name), h, opt)
}

func (r *Registry) Close() error {
	if r.broker == nil {
		return nil
	}
	return r.broker.Close()
}
