package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "meetflow/pkg/logx"
)

// CronParser accepts 5-field crontab, optional seconds and @descriptors.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// RepeatJobID is the deterministic id of the job fired for one tick of a
// recurring entry. Processes sharing a broker dedupe the same tick on it.
func RepeatJobID(key string, fireAt time.Time) string {
	return fmt.Sprintf("repeat:%s:%d", key, fireAt.UnixMilli())
}

// NextFire returns the first fire time of cadence strictly after t, evaluated
// in the entry's timezone (empty means fallback).
func NextFire(cadence, timezone string, t time.Time, fallback *time.Location) (time.Time, error) {
	sched, err := CronParser.Parse(strings.TrimSpace(cadence))
	if err != nil {
		return time.Time{}, fmt.Errorf("cadence %q: %w", cadence, err)
	}
	loc := fallback
	if tz := strings.TrimSpace(timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return time.Time{}, fmt.Errorf("timezone %q: %w", tz, err)
		}
	}
	if loc == nil {
		loc = time.Local
	}
	return sched.Next(t.In(loc)), nil
}

// Repeater turns due recurring entries into jobs.
//
// A missed window (process down for several ticks) fires once, then the next
// run is computed from now.
type Repeater struct {
	mu       sync.Mutex
	queues   []*Queue
	interval time.Duration
	loc      *time.Location
	log      logx.Logger
	now      func() time.Time
}

func NewRepeater(queues []*Queue, interval time.Duration, loc *time.Location, log logx.Logger) *Repeater {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	return &Repeater{queues: queues, interval: interval, loc: loc, log: log.With(logx.String("comp", "repeater")), now: time.Now}
}

// SetLocation changes the fallback timezone (config hot reload).
func (r *Repeater) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	r.mu.Lock()
	r.loc = loc
	r.mu.Unlock()
}

func (r *Repeater) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("repeat tick failed", logx.Err(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tick fires every due entry once and returns how many jobs were added.
func (r *Repeater) Tick(ctx context.Context) (int, error) {
	r.mu.Lock()
	loc := r.loc
	r.mu.Unlock()

	now := r.now()
	fired := 0
	var errs []error
	for _, q := range r.queues {
		entries, err := q.ListRecurring(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", q.name, err))
			continue
		}
		for _, e := range entries {
			n, err := r.fireEntry(ctx, q, e, now, loc)
			fired += n
			if err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", q.name, e.Key, err))
			}
		}
	}
	return fired, errors.Join(errs...)
}

func (r *Repeater) fireEntry(ctx context.Context, q *Queue, e RecurringEntry, now time.Time, loc *time.Location) (int, error) {
	next, err := NextFire(e.Cadence, e.Timezone, now, loc)
	if err != nil {
		return 0, err
	}
	if e.NextRun.IsZero() {
		return 0, r.advance(ctx, q, e.Key, next)
	}
	if e.NextRun.After(now) {
		return 0, nil
	}

	opts := e.Opts
	opts.JobID = RepeatJobID(e.Key, e.NextRun)
	fired := 0
	_, err = q.Add(ctx, e.JobName, e.Payload, opts)
	switch {
	case err == nil:
		fired = 1
		r.log.Debug("recurring job fired", logx.String("queue", q.name), logx.String("name", e.Name), logx.Time("tick", e.NextRun))
	case errors.Is(err, ErrDuplicate):
		// Another process fired this tick.
	default:
		return 0, err
	}
	return fired, r.advance(ctx, q, e.Key, next)
}

func (r *Repeater) advance(ctx context.Context, q *Queue, key string, next time.Time) error {
	err := q.broker.AdvanceRecurring(ctx, q.name, key, next)
	if errors.Is(err, ErrNotFound) {
		// Removed by a concurrent registration pass.
		return nil
	}
	return err
}
