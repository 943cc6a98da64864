package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

// RecurringQueue is the part of a queue the scheduler needs.
type RecurringQueue interface {
	Name() string
	ListRecurring(ctx context.Context) ([]queue.RecurringEntry, error)
	UpsertRecurring(ctx context.Context, e queue.RecurringEntry) error
	RemoveRecurring(ctx context.Context, key string) error
}

// Resolver maps a queue name to its recurring registrations.
type Resolver func(queueName string) RecurringQueue

// FromRegistry resolves queues from the process queue registry.
func FromRegistry(reg *queue.Registry) Resolver {
	return func(name string) RecurringQueue { return reg.Queue(name) }
}

// Trigger is one logical recurring job.
type Trigger struct {
	Queue    string
	Name     string
	JobName  string
	Cadence  string
	Timezone string
	Payload  any
	Opts     queue.Options
}

type Scheduler struct {
	resolve Resolver
	log     logx.Logger
}

func New(resolve Resolver, log logx.Logger) *Scheduler {
	return &Scheduler{resolve: resolve, log: log.With(logx.String("comp", "scheduler"))}
}

// ScheduleRecurring registers triggerName on queueName with the given cadence
// and payload. It is idempotent.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, queueName, triggerName, cadence string, payload any) error {
	return s.Register(ctx, Trigger{Queue: queueName, Name: triggerName, Cadence: cadence, Payload: payload})
}

// Register upserts the trigger's entry, then removes every other entry with
// the same name (matched by name, never by cadence, so a cadence change is a
// clean replace). Remove failures are logged and leave a stale entry behind
// until the next registration pass; they are not returned.
func (s *Scheduler) Register(ctx context.Context, t Trigger) error {
	name := strings.TrimSpace(t.Name)
	if name == "" || strings.TrimSpace(t.Queue) == "" {
		return errors.New("scheduler: trigger needs queue and name")
	}
	expr, err := ParseCadence(t.Cadence)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", name, err)
	}
	var payload json.RawMessage
	switch p := t.Payload.(type) {
	case nil:
	case json.RawMessage:
		payload = p
	case []byte:
		payload = p
	default:
		if payload, err = json.Marshal(p); err != nil {
			return fmt.Errorf("trigger %s payload: %w", name, err)
		}
	}

	q := s.resolve(t.Queue)
	log := s.log.With(logx.String("queue", q.Name()), logx.String("trigger", name))
	existing, err := q.ListRecurring(ctx)
	if err != nil {
		return fmt.Errorf("list recurring %s: %w", q.Name(), err)
	}

	key := queue.RecurringKey(name, expr)
	entry := queue.RecurringEntry{
		Key:      key,
		Name:     name,
		JobName:  t.JobName,
		Cadence:  expr,
		Timezone: t.Timezone,
		Payload:  payload,
		Opts:     t.Opts,
	}
	for _, e := range existing {
		if e.Key == key {
			// Same tick schedule: keep its progress so a restart neither skips
			// nor repeats the upcoming tick.
			entry.NextRun = e.NextRun
			entry.CreatedAt = e.CreatedAt
			if e.Timezone != entry.Timezone {
				entry.NextRun = time.Time{}
			}
		}
	}
	if err := q.UpsertRecurring(ctx, entry); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	removed := 0
	for _, e := range existing {
		if e.Name != name || e.Key == key {
			continue
		}
		if err := q.RemoveRecurring(ctx, e.Key); err != nil && !errors.Is(err, queue.ErrNotFound) {
			log.Error("remove stale recurring entry failed", logx.String("key", e.Key), logx.Err(err))
			continue
		}
		removed++
	}
	log.Info("recurring trigger registered", logx.String("cadence", expr), logx.Int("replaced", removed))
	return nil
}

// Unregister removes every entry of triggerName on queueName.
func (s *Scheduler) Unregister(ctx context.Context, queueName, triggerName string) (int, error) {
	q := s.resolve(queueName)
	existing, err := q.ListRecurring(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, e := range existing {
		if e.Name != triggerName {
			continue
		}
		if err := q.RemoveRecurring(ctx, e.Key); err != nil && !errors.Is(err, queue.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("recurring trigger removed", logx.String("queue", queueName), logx.String("trigger", triggerName), logx.Int("entries", n))
	}
	return n, errors.Join(errs...)
}

// RegisterAll registers every trigger, continuing past failures. The
// returned error joins all failures; callers log it and keep running.
func (s *Scheduler) RegisterAll(ctx context.Context, triggers []Trigger) error {
	var errs []error
	for _, t := range triggers {
		if err := s.Register(ctx, t); err != nil {
			s.log.Error("recurring trigger registration failed", logx.String("queue", t.Queue), logx.String("trigger", t.Name), logx.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns the recurring entries of the given queues.
func (s *Scheduler) List(ctx context.Context, queues []string) ([]queue.RecurringEntry, error) {
	var out []queue.RecurringEntry
	for _, name := range queues {
		es, err := s.resolve(name).ListRecurring(ctx)
		if err != nil {
			return out, fmt.Errorf("list recurring %s: %w", name, err)
		}
		out = append(out, es...)
	}
	return out, nil
}
