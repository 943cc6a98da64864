package queue

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func testBrokers(t *testing.T) map[string]Broker {
	t.Helper()
	rb, _ := newRedisBroker(t)
	return map[string]Broker{
		"memory": NewMemoryBroker(),
		"redis":  rb,
	}
}

func TestBrokerStalledJobCompletesOnce(t *testing.T) {
	t.Parallel()
	for name, b := range testBrokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			job := &Job{ID: "scan", Queue: "auto-record", Name: "scan-auto-record", State: StateWaiting,
				CreatedAt: now, RunAt: now, Opts: Options{Attempts: 1}}
			if err := b.Push(ctx, job, time.Hour); err != nil {
				t.Fatalf("Push: %v", err)
			}
			got, err := b.Pop(ctx, "auto-record", now)
			if err != nil || got == nil {
				t.Fatalf("Pop = %+v, %v", got, err)
			}
			ids, err := b.RequeueStalled(ctx, "auto-record", now.Add(time.Hour))
			if err != nil || len(ids) != 1 {
				t.Fatalf("RequeueStalled = %v, %v", ids, err)
			}

			// The original attempt finishes after the requeue.
			got.AttemptsMade = 1
			got.FinishedAt = now
			if err := b.Complete(ctx, got); err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if again, err := b.Pop(ctx, "auto-record", now.Add(time.Second)); err != nil || again != nil {
				t.Fatalf("completed job popped again: %+v, %v", again, err)
			}
			c, err := b.Counts(ctx, "auto-record")
			if err != nil {
				t.Fatalf("Counts: %v", err)
			}
			if c.Waiting != 0 || c.Active != 0 || c.Completed != 1 {
				t.Fatalf("counts = %+v", c)
			}
		})
	}
}

func TestBrokerStalledJobRetriedOnce(t *testing.T) {
	t.Parallel()
	for name, b := range testBrokers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			job := &Job{ID: "sync", Queue: "calendar-sync", Name: "sync-calendars", State: StateWaiting,
				CreatedAt: now, RunAt: now, Opts: Options{Attempts: 3}}
			if err := b.Push(ctx, job, time.Hour); err != nil {
				t.Fatalf("Push: %v", err)
			}
			got, _ := b.Pop(ctx, "calendar-sync", now)
			if got == nil {
				t.Fatal("Pop returned nothing")
			}
			if _, err := b.RequeueStalled(ctx, "calendar-sync", now.Add(time.Hour)); err != nil {
				t.Fatalf("RequeueStalled: %v", err)
			}
			got.AttemptsMade = 1
			got.RunAt = now.Add(time.Minute)
			if err := b.Retry(ctx, got); err != nil {
				t.Fatalf("Retry: %v", err)
			}
			if j, _ := b.Pop(ctx, "calendar-sync", now.Add(time.Second)); j != nil {
				t.Fatalf("retried job popped before its delay: %+v", j)
			}
			if j, _ := b.Pop(ctx, "calendar-sync", now.Add(2*time.Minute)); j == nil || j.AttemptsMade != 1 {
				t.Fatalf("retried job not popped after delay: %+v", j)
			}
		})
	}
}

func TestMemoryBrokerSweepsExpiredReservations(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return clock }

	for i := range 1000 {
		job := &Job{ID: "j" + strconv.Itoa(i), Queue: "email", Name: "send-email", State: StateWaiting,
			Opts: Options{Attempts: 1, RemoveOnComplete: -1}}
		if err := b.Push(ctx, job, time.Millisecond); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		clock = clock.Add(time.Second)
	}
	b.mu.Lock()
	n := len(b.dedup)
	b.mu.Unlock()
	if n > dedupSweepEvery {
		t.Fatalf("dedup reservations = %d, want <= %d", n, dedupSweepEvery)
	}

	// An expired reservation no longer blocks the id.
	job := &Job{ID: "j0s", Queue: "other", Name: "x", State: StateWaiting}
	if err := b.Push(ctx, job, time.Millisecond); err != nil {
		t.Fatalf("first push: %v", err)
	}
	clock = clock.Add(time.Second)
	b.mu.Lock()
	delete(b.q("other").jobs, "j0s")
	b.mu.Unlock()
	if err := b.Push(ctx, job, time.Millisecond); err != nil {
		t.Fatalf("push after expiry: %v", err)
	}
}
