package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"meetflow/internal/eventbus"
	logx "meetflow/pkg/logx"
)

// Queue is a named view over a Broker with default job options.
type Queue struct {
	name     string
	broker   Broker
	defaults Options
	dedupTTL time.Duration
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time

	// wake nudges a local idle worker after Add.
	wake chan struct{}
}

func newQueue(name string, b Broker, defaults Options, dedupTTL time.Duration, log logx.Logger, bus eventbus.Bus) *Queue {
	return &Queue{
		name:     name,
		broker:   b,
		defaults: defaults,
		dedupTTL: dedupTTL,
		log:      log.With(logx.String("queue", name)),
		bus:      bus,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

func (q *Queue) Name() string      { return q.name }
func (q *Queue) Defaults() Options { return q.defaults }

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// Add enqueues a job. If opts.JobID is set and already reserved, Add returns
// ErrDuplicate and enqueues nothing.
func (q *Queue) Add(ctx context.Context, jobName string, payload any, opts Options) (*Job, error) {
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return nil, errors.New("queue: job name required")
	}
	data, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	opts = opts.withDefaults(q.defaults)
	now := q.now()
	id := strings.TrimSpace(opts.JobID)
	if id == "" {
		id = uuid.NewString()
	}
	j := &Job{
		ID:        id,
		Queue:     q.name,
		Name:      jobName,
		Payload:   data,
		Opts:      opts,
		State:     StateWaiting,
		CreatedAt: now,
		RunAt:     now,
	}
	if opts.Delay > 0 {
		j.State = StateDelayed
		j.RunAt = now.Add(opts.Delay)
	}
	if err := q.broker.Push(ctx, j, q.dedupTTL); err != nil {
		return nil, err
	}
	q.log.Debug("job added", logx.String("job", jobName), logx.String("id", id), logx.Duration("delay", opts.Delay))
	if q.bus != nil {
		q.bus.Publish(eventbus.Event{Type: EventAdded, Time: now, Data: Event{Queue: q.name, JobID: id, Name: jobName}})
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return j, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.broker.Get(ctx, q.name, id)
}

func (q *Queue) History(ctx context.Context, state State, limit int) ([]*Job, error) {
	return q.broker.History(ctx, q.name, state, limit)
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	return q.broker.Counts(ctx, q.name)
}

// UpsertRecurring stores a recurring entry under its key, filling Key,
// Queue and CreatedAt when empty.
func (q *Queue) UpsertRecurring(ctx context.Context, e RecurringEntry) error {
	if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.Cadence) == "" {
		return errors.New("queue: recurring entry needs name and cadence")
	}
	if e.JobName == "" {
		e.JobName = e.Name
	}
	if e.Key == "" {
		e.Key = RecurringKey(e.Name, e.Cadence)
	}
	e.Queue = q.name
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.now()
	}
	return q.broker.PutRecurring(ctx, e)
}

func (q *Queue) ListRecurring(ctx context.Context) ([]RecurringEntry, error) {
	return q.broker.ListRecurring(ctx, q.name)
}

func (q *Queue) RemoveRecurring(ctx context.Context, key string) error {
	return q.broker.RemoveRecurring(ctx, q.name, key)
}
