package queue

import (
	"context"
	"sort"
	"time"
)

// Broker stores jobs and recurring entries for any number of named queues.
//
// Pop must hand a job to exactly one caller. Everything else is
// last-writer-wins on the job record.
type Broker interface {
	// Push stores a new job. The job id stays reserved for dedupTTL;
	// a second Push with the same id returns ErrDuplicate.
	Push(ctx context.Context, job *Job, dedupTTL time.Duration) error
	// Pop promotes due delayed jobs and returns the next waiting job marked
	// active, or nil when nothing is ready.
	Pop(ctx context.Context, queue string, now time.Time) (*Job, error)
	// Complete and Fail move an active job to the terminal state and trim
	// that state's history to the job's retention option.
	Complete(ctx context.Context, job *Job) error
	Fail(ctx context.Context, job *Job) error
	// Retry moves an active job back to delayed until job.RunAt.
	Retry(ctx context.Context, job *Job) error
	// RequeueStalled moves jobs active since before `before` back to waiting.
	RequeueStalled(ctx context.Context, queue string, before time.Time) ([]string, error)

	Get(ctx context.Context, queue, id string) (*Job, error)
	// History returns retained completed or failed jobs, newest first.
	History(ctx context.Context, queue string, state State, limit int) ([]*Job, error)
	Counts(ctx context.Context, queue string) (Counts, error)

	PutRecurring(ctx context.Context, e RecurringEntry) error
	ListRecurring(ctx context.Context, queue string) ([]RecurringEntry, error)
	// AdvanceRecurring sets NextRun of an existing entry. A missing entry is
	// not recreated and reports ErrNotFound.
	AdvanceRecurring(ctx context.Context, queue, key string, next time.Time) error
	// RemoveRecurring reports ErrNotFound when the key does not exist.
	RemoveRecurring(ctx context.Context, queue, key string) error

	Close() error
}

// defaultRetain bounds history when neither the job nor the queue sets a limit.
const defaultRetain = 1000

func retainLimit(n int) int {
	switch {
	case n < 0:
		return 0
	case n == 0:
		return defaultRetain
	}
	return n
}

func sortEntries(es []RecurringEntry) {
	sort.Slice(es, func(i, j int) bool { return es[i].Key < es[j].Key })
}
