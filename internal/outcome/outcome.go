// Package outcome aggregates what one scan did. A Recorder is shared by the
// goroutines of a run; its Result is the job's return value.
package outcome

import (
	"sync"
	"sync/atomic"
	"time"

	logx "meetflow/pkg/logx"
)

// Result is the run outcome attached to the completed job.
type Result struct {
	Processed int64 `json:"processed"`
	Created   int64 `json:"created"`
	Updated   int64 `json:"updated"`
	Skipped   int64 `json:"skipped"`
	Errors    int64 `json:"errors"`
	// Failures holds the first few per-candidate error messages.
	Failures []string `json:"failures,omitempty"`
}

// Total is the number of candidates that reached a verdict.
func (r Result) Total() int64 { return r.Created + r.Updated + r.Skipped + r.Errors }

const maxFailures = 10

// Recorder is safe for concurrent use.
type Recorder struct {
	run   string
	start time.Time

	processed atomic.Int64
	created   atomic.Int64
	updated   atomic.Int64
	skipped   atomic.Int64
	errors    atomic.Int64

	mu       sync.Mutex
	failures []string
}

func NewRecorder(run string) *Recorder {
	return &Recorder{run: run, start: time.Now()}
}

func (r *Recorder) Processed() { r.processed.Add(1) }
func (r *Recorder) Created()   { r.created.Add(1) }
func (r *Recorder) Updated()   { r.updated.Add(1) }
func (r *Recorder) Skipped()   { r.skipped.Add(1) }

// Error counts a per-candidate failure. It does not fail the run.
func (r *Recorder) Error(err error) {
	r.errors.Add(1)
	if err == nil {
		return
	}
	r.mu.Lock()
	if len(r.failures) < maxFailures {
		r.failures = append(r.failures, err.Error())
	}
	r.mu.Unlock()
}

// Merge adds a sub-run's result.
func (r *Recorder) Merge(o Result) {
	r.processed.Add(o.Processed)
	r.created.Add(o.Created)
	r.updated.Add(o.Updated)
	r.skipped.Add(o.Skipped)
	r.errors.Add(o.Errors)
	r.mu.Lock()
	for _, f := range o.Failures {
		if len(r.failures) >= maxFailures {
			break
		}
		r.failures = append(r.failures, f)
	}
	r.mu.Unlock()
}

func (r *Recorder) Result() Result {
	r.mu.Lock()
	failures := append([]string(nil), r.failures...)
	r.mu.Unlock()
	return Result{
		Processed: r.processed.Load(),
		Created:   r.created.Load(),
		Updated:   r.updated.Load(),
		Skipped:   r.skipped.Load(),
		Errors:    r.errors.Load(),
		Failures:  failures,
	}
}

// Log writes the run summary.
func (r *Recorder) Log(log logx.Logger, fields ...logx.Field) Result {
	res := r.Result()
	fs := append([]logx.Field{
		logx.String("run", r.run),
		logx.Int64("processed", res.Processed),
		logx.Int64("created", res.Created),
		logx.Int64("updated", res.Updated),
		logx.Int64("skipped", res.Skipped),
		logx.Int64("errors", res.Errors),
		logx.Duration("dur", time.Since(r.start)),
	}, fields...)
	if res.Errors > 0 {
		log.Warn("run.summary", fs...)
	} else {
		log.Info("run.summary", fs...)
	}
	return res
}
