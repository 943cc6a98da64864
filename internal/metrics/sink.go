// Package metrics records job lifecycle and run outcome metrics.
package metrics

import (
	"time"

	"meetflow/internal/outcome"
	"meetflow/internal/queue"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations must not block or return errors.
type Sink interface {
	// Job lifecycle
	JobCompleted(queue string, duration time.Duration)
	JobRetried(queue string)
	JobFailed(queue string, final bool)
	JobStalled(queue string)

	// Scan outcome carried in the job result
	RunOutcome(queue string, r outcome.Result)

	// Broker state
	QueueDepth(queue string, c queue.Counts)
	EventsDropped(total uint64)
}
