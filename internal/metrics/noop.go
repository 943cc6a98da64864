package metrics

import (
	"time"

	"meetflow/internal/outcome"
	"meetflow/internal/queue"
)

// NoopSink discards everything. Used when metrics are disabled.
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) JobCompleted(string, time.Duration) {}
func (NoopSink) JobRetried(string)                  {}
func (NoopSink) JobFailed(string, bool)             {}
func (NoopSink) JobStalled(string)                  {}
func (NoopSink) RunOutcome(string, outcome.Result)  {}
func (NoopSink) QueueDepth(string, queue.Counts)    {}
func (NoopSink) EventsDropped(uint64)               {}
