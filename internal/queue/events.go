package queue

import (
	"encoding/json"
	"time"
)

// Lifecycle event types published on the event bus.
const (
	EventAdded     = "job.added"
	EventCompleted = "job.completed"
	EventRetrying  = "job.retrying"
	EventFailed    = "job.failed"
	EventStalled   = "job.stalled"
)

// Event is the Data of every job.* bus event.
type Event struct {
	Queue    string          `json:"queue"`
	JobID    string          `json:"job_id"`
	Name     string          `json:"name"`
	Attempt  int             `json:"attempt,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Err      string          `json:"err,omitempty"`
	Delay    time.Duration   `json:"delay,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
	// Final is set on job.failed once no attempts remain.
	Final bool `json:"final,omitempty"`
}
