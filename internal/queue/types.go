package queue

import (
	"encoding/json"
	"strings"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

type Backoff struct {
	Type  BackoffType   `json:"type,omitempty"`
	Delay time.Duration `json:"delay,omitempty"`
	// Jitter is a +/- fraction applied to each delay (0.2 = 20%).
	Jitter float64 `json:"jitter,omitempty"`
}

// Options control one job. Zero fields take the queue defaults.
type Options struct {
	// JobID makes Add idempotent: a second Add with the same id returns
	// ErrDuplicate while the id is still reserved.
	JobID    string  `json:"job_id,omitempty"`
	Attempts int     `json:"attempts,omitempty"`
	Backoff  Backoff `json:"backoff,omitempty"`
	// Priority orders waiting jobs, lower first (0..100).
	Priority int           `json:"priority,omitempty"`
	Delay    time.Duration `json:"delay,omitempty"`
	// RemoveOnComplete / RemoveOnFail bound the retained history: keep the
	// last N jobs in that state. Negative keeps none.
	RemoveOnComplete int `json:"remove_on_complete,omitempty"`
	RemoveOnFail     int `json:"remove_on_fail,omitempty"`
}

const maxPriority = 100

// withDefaults fills zero fields from def.
func (o Options) withDefaults(def Options) Options {
	if o.Attempts <= 0 {
		o.Attempts = def.Attempts
	}
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = def.Backoff.Type
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = BackoffExponential
	}
	if o.Backoff.Delay <= 0 {
		o.Backoff.Delay = def.Backoff.Delay
	}
	if o.Backoff.Jitter <= 0 {
		o.Backoff.Jitter = def.Backoff.Jitter
	}
	if o.Priority == 0 {
		o.Priority = def.Priority
	}
	o.Priority = min(max(o.Priority, 0), maxPriority)
	if o.RemoveOnComplete == 0 {
		o.RemoveOnComplete = def.RemoveOnComplete
	}
	if o.RemoveOnFail == 0 {
		o.RemoveOnFail = def.RemoveOnFail
	}
	return o
}

// Job is one unit of queued work. Brokers store it as JSON.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Opts    Options         `json:"opts"`

	State        State           `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	RunAt       time.Time `json:"run_at"`
	ProcessedAt time.Time `json:"processed_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}

func (j *Job) clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	c.Result = append(json.RawMessage(nil), j.Result...)
	return &c
}

// RecurringEntry is a cadence registration that the Repeater turns into jobs.
type RecurringEntry struct {
	// Key is stable per (Name, Cadence); see RecurringKey.
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	Queue    string          `json:"queue"`
	JobName  string          `json:"job_name"`
	Cadence  string          `json:"cadence"`
	Timezone string          `json:"timezone,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Opts     Options         `json:"opts,omitempty"`

	NextRun   time.Time `json:"next_run,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecurringKey returns the key of a recurring entry for a trigger name and cadence.
func RecurringKey(name, cadence string) string {
	return strings.TrimSpace(name) + "::" + strings.TrimSpace(cadence)
}

// Counts is a per-state job count of one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
