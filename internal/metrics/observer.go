package metrics

import (
	"context"
	"encoding/json"
	"time"

	"meetflow/internal/eventbus"
	"meetflow/internal/outcome"
	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

// Observe feeds job lifecycle events from bus into sink until ctx is done.
func Observe(ctx context.Context, bus eventbus.Bus, sink Sink, log logx.Logger) error {
	ch, unsubscribe := bus.Subscribe(256, "job.")
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			record(e, sink, log)
		}
	}
}

func record(e eventbus.Event, sink Sink, log logx.Logger) {
	ev, ok := e.Data.(queue.Event)
	if !ok {
		return
	}
	switch e.Type {
	case queue.EventCompleted:
		sink.JobCompleted(ev.Queue, ev.Duration)
		if len(ev.Result) == 0 {
			return
		}
		var r outcome.Result
		if err := json.Unmarshal(ev.Result, &r); err != nil {
			// Not every handler returns a run outcome.
			log.Debug("job result is not an outcome", logx.String("queue", ev.Queue), logx.Err(err))
			return
		}
		sink.RunOutcome(ev.Queue, r)
	case queue.EventRetrying:
		sink.JobRetried(ev.Queue)
	case queue.EventFailed:
		sink.JobFailed(ev.Queue, ev.Final)
	case queue.EventStalled:
		sink.JobStalled(ev.Queue)
	}
}

// QueueLister is satisfied by *queue.Registry.
type QueueLister interface {
	Queues() []*queue.Queue
}

// PollDepth samples broker counts of every queue at each interval.
func PollDepth(ctx context.Context, queues QueueLister, bus eventbus.Bus, sink Sink, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		for _, q := range queues.Queues() {
			c, err := q.Counts(ctx)
			if err != nil {
				continue
			}
			sink.QueueDepth(q.Name(), c)
		}
		if bus != nil {
			sink.EventsDropped(bus.Dropped())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
