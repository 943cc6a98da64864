package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meetflow/internal/eventbus"
	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

const maxErrText = 400

// Watch turns terminal job failures into alerts until ctx is done.
// Retries in progress are not alerted.
func (s *Service) Watch(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(128, queue.EventFailed)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := e.Data.(queue.Event)
			if !ok || !ev.Final {
				continue
			}
			err := s.Notify(ctx, JobFailureAlert(ev))
			if err != nil && !errors.Is(err, ErrDisabled) && !errors.Is(err, ErrStopped) {
				s.log.Warn("job failure alert not queued", logx.String("queue", ev.Queue), logx.String("id", ev.JobID), logx.Err(err))
			}
		}
	}
}

// JobFailureAlert renders a terminal failure. Repeats of the same job name
// failing with the same error collapse into one alert per dedup window.
func JobFailureAlert(ev queue.Event) Alert {
	reason := strings.TrimSpace(ev.Err)
	if r := []rune(reason); len(r) > maxErrText {
		reason = string(r[:maxErrText]) + "…"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "job failed: %s/%s\n", ev.Queue, ev.Name)
	fmt.Fprintf(&b, "id: %s\n", ev.JobID)
	fmt.Fprintf(&b, "attempts: %d\n", ev.Attempt)
	if reason != "" {
		fmt.Fprintf(&b, "error: %s", reason)
	}
	return Alert{
		Priority: 7,
		Key:      "job.failed|" + ev.Queue + "|" + ev.Name + "|" + reason,
		Text:     strings.TrimRight(b.String(), "\n"),
	}
}
