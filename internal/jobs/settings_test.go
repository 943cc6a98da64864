package jobs

import (
	"context"
	"testing"
	"time"

	"meetflow/internal/config"
	"meetflow/internal/queue"
	"meetflow/internal/scheduler"
	logx "meetflow/pkg/logx"
)

func TestQueueSettingsDefaults(t *testing.T) {
	t.Parallel()
	s, err := QueueSettings(nil)
	if err != nil {
		t.Fatalf("QueueSettings: %v", err)
	}
	tests := []struct {
		queue       string
		concurrency int
		rate        int
	}{
		{QueueAutoRecord, 1, 0},
		{QueueWeeklyDigest, 1, 0},
		{QueueCalendarSync, 5, 10},
		{QueueEmail, 5, 0},
		{QueueWebhooks, 5, 0},
	}
	for _, tt := range tests {
		got := s[tt.queue]
		if got.Concurrency != tt.concurrency || got.RatePerSec != tt.rate {
			t.Fatalf("%s: concurrency=%d rate=%d", tt.queue, got.Concurrency, got.RatePerSec)
		}
		if got.Defaults.Attempts < 3 || got.Defaults.Backoff.Type != queue.BackoffExponential {
			t.Fatalf("%s: defaults = %+v", tt.queue, got.Defaults)
		}
	}
}

func TestQueueSettingsOverrides(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Queues: map[string]config.QueueSettings{
		QueueEmail: {Concurrency: 2, Attempts: 9, Backoff: "3s", BackoffType: "fixed", Timeout: "1m"},
	}}
	s, err := QueueSettings(cfg)
	if err != nil {
		t.Fatalf("QueueSettings: %v", err)
	}
	got := s[QueueEmail]
	if got.Concurrency != 2 || got.Defaults.Attempts != 9 || got.Defaults.Backoff.Delay != 3*time.Second ||
		got.Defaults.Backoff.Type != queue.BackoffFixed || got.Timeout != time.Minute {
		t.Fatalf("email settings = %+v", got)
	}
	if s[QueueAutoRecord].Concurrency != 1 {
		t.Fatalf("untouched queue changed")
	}

	cfg.Queues[QueueEmail] = config.QueueSettings{BackoffType: "linear"}
	if _, err := QueueSettings(cfg); err == nil {
		t.Fatalf("expected error for unknown backoff type")
	}
}

func TestTriggersRegisterIdempotently(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := queue.NewRegistry(queue.NewMemoryBroker(), queue.RegistryOptions{Log: logx.Nop()})
	defer reg.Close()
	sched := scheduler.New(scheduler.FromRegistry(reg), logx.Nop())

	cfg := &config.Config{Schedules: config.SchedulesConfig{WeeklyDigest: "monday 09:00", Timezone: "UTC"}}
	for i := 0; i < 3; i++ {
		if err := sched.RegisterAll(ctx, Triggers(cfg)); err != nil {
			t.Fatalf("RegisterAll: %v", err)
		}
	}
	entries, err := sched.List(ctx, QueueNames)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := map[string]string{
		TriggerAutoRecord:   DefaultAutoRecordCadence,
		TriggerCalendarSync: DefaultCalendarSyncCadence,
		TriggerWeeklyDigest: DefaultWeeklyDigestCadence,
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v", entries)
	}
	for _, e := range entries {
		if want[e.Name] != e.Cadence {
			t.Fatalf("%s cadence = %q, want %q", e.Name, e.Cadence, want[e.Name])
		}
	}
}

func TestAutoRecordOptions(t *testing.T) {
	t.Parallel()
	got, err := AutoRecordOptions(&config.Config{AutoRecord: config.AutoRecordConfig{JoinLead: "2m", BotName: "Scribe"}})
	if err != nil {
		t.Fatalf("AutoRecordOptions: %v", err)
	}
	if got.JoinLead != 2*time.Minute || got.BotName != "Scribe" || got.WindowBefore != 2*time.Minute || got.WindowAfter != 10*time.Minute {
		t.Fatalf("options = %+v", got)
	}
}
