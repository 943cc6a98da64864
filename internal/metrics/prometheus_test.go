package metrics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"meetflow/internal/eventbus"
	"meetflow/internal/outcome"
	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

func newTestSink(t *testing.T) *PrometheusSink {
	t.Helper()
	return NewPrometheusSink(prometheus.NewRegistry(), logx.Nop())
}

func TestPrometheusSinkJobCounters(t *testing.T) {
	t.Parallel()
	s := newTestSink(t)
	s.JobCompleted("email", 200*time.Millisecond)
	s.JobCompleted("email", time.Second)
	s.JobRetried("webhooks")
	s.JobFailed("webhooks", true)
	s.JobStalled("auto-record")

	if got := testutil.ToFloat64(s.jobsCompleted.WithLabelValues("email")); got != 2 {
		t.Fatalf("completed = %v", got)
	}
	if got := testutil.ToFloat64(s.jobsRetried.WithLabelValues("webhooks")); got != 1 {
		t.Fatalf("retried = %v", got)
	}
	if got := testutil.ToFloat64(s.jobsFailed.WithLabelValues("webhooks", "true")); got != 1 {
		t.Fatalf("failed = %v", got)
	}
	if got := testutil.ToFloat64(s.jobsStalled.WithLabelValues("auto-record")); got != 1 {
		t.Fatalf("stalled = %v", got)
	}
}

func TestPrometheusSinkQueueDepth(t *testing.T) {
	t.Parallel()
	s := newTestSink(t)
	s.QueueDepth("email", queue.Counts{Waiting: 3, Failed: 1})
	if got := testutil.ToFloat64(s.queueDepth.WithLabelValues("email", "waiting")); got != 3 {
		t.Fatalf("waiting = %v", got)
	}
	if got := testutil.ToFloat64(s.queueDepth.WithLabelValues("email", "failed")); got != 1 {
		t.Fatalf("failed = %v", got)
	}
}

func TestDuplicateRegistrationDoesNotPanic(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg, logx.Nop())
	NewPrometheusSink(reg, logx.Nop())
}

func TestObserveRecordsOutcome(t *testing.T) {
	t.Parallel()
	s := newTestSink(t)
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Observe(ctx, bus, s, logx.Nop())
	}()
	defer func() {
		cancel()
		<-done
	}()

	res, _ := json.Marshal(outcome.Result{Processed: 3, Created: 2, Skipped: 1})
	// The subscription is registered asynchronously; publish until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(s.runOutcomes.WithLabelValues("auto-record", "created")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event not observed")
		}
		bus.Publish(eventbus.Event{Type: queue.EventCompleted, Time: time.Now(), Data: queue.Event{Queue: "auto-record", Result: res}})
		time.Sleep(10 * time.Millisecond)
	}
	if got := testutil.ToFloat64(s.jobsCompleted.WithLabelValues("auto-record")); got < 1 {
		t.Fatalf("completed = %v", got)
	}
}
