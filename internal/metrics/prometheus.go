package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meetflow/internal/outcome"
	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log logx.Logger

	jobsCompleted *prometheus.CounterVec
	jobsRetried   *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobsStalled   *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec

	runOutcomes *prometheus.CounterVec

	queueDepth    *prometheus.GaugeVec
	eventsDropped prometheus.Gauge
}

func NewPrometheusSink(reg prometheus.Registerer, log logx.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log.With(logx.String("comp", "metrics"))}
	s.initJobMetrics(reg)
	s.initOutcomeMetrics(reg)
	s.initQueueMetrics(reg)
	return s
}

func (s *PrometheusSink) initJobMetrics(reg prometheus.Registerer) {
	s.jobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetflow_jobs_completed_total",
		Help: "Total number of jobs completed.",
	}, []string{"queue"})
	s.jobsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetflow_jobs_retried_total",
		Help: "Total number of failed attempts scheduled for retry.",
	}, []string{"queue"})
	s.jobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetflow_jobs_failed_total",
		Help: "Total number of jobs that reached the failed state.",
	}, []string{"queue", "final"})
	s.jobsStalled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetflow_jobs_stalled_total",
		Help: "Total number of stalled jobs requeued.",
	}, []string{"queue"})
	s.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meetflow_job_duration_seconds",
		Help:    "Handler duration of completed jobs in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"queue"})

	s.register(reg, s.jobsCompleted, "meetflow_jobs_completed_total")
	s.register(reg, s.jobsRetried, "meetflow_jobs_retried_total")
	s.register(reg, s.jobsFailed, "meetflow_jobs_failed_total")
	s.register(reg, s.jobsStalled, "meetflow_jobs_stalled_total")
	s.register(reg, s.jobDuration, "meetflow_job_duration_seconds")
}

func (s *PrometheusSink) initOutcomeMetrics(reg prometheus.Registerer) {
	s.runOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetflow_run_candidates_total",
		Help: "Scan candidates by verdict (created, updated, skipped, errors).",
	}, []string{"queue", "verdict"})
	s.register(reg, s.runOutcomes, "meetflow_run_candidates_total")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meetflow_queue_jobs",
		Help: "Number of jobs per queue and state.",
	}, []string{"queue", "state"})
	s.eventsDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meetflow_eventbus_dropped_events",
		Help: "Lifecycle events dropped because a subscriber was full.",
	})
	s.register(reg, s.queueDepth, "meetflow_queue_jobs")
	s.register(reg, s.eventsDropped, "meetflow_eventbus_dropped_events")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn("metric registration failed", logx.String("metric", name), logx.Err(err))
	}
}

func (s *PrometheusSink) JobCompleted(q string, d time.Duration) {
	s.jobsCompleted.WithLabelValues(q).Inc()
	s.jobDuration.WithLabelValues(q).Observe(d.Seconds())
}

func (s *PrometheusSink) JobRetried(q string) { s.jobsRetried.WithLabelValues(q).Inc() }

func (s *PrometheusSink) JobFailed(q string, final bool) {
	s.jobsFailed.WithLabelValues(q, strconv.FormatBool(final)).Inc()
}

func (s *PrometheusSink) JobStalled(q string) { s.jobsStalled.WithLabelValues(q).Inc() }

func (s *PrometheusSink) RunOutcome(q string, r outcome.Result) {
	s.runOutcomes.WithLabelValues(q, "created").Add(float64(r.Created))
	s.runOutcomes.WithLabelValues(q, "updated").Add(float64(r.Updated))
	s.runOutcomes.WithLabelValues(q, "skipped").Add(float64(r.Skipped))
	s.runOutcomes.WithLabelValues(q, "errors").Add(float64(r.Errors))
}

func (s *PrometheusSink) QueueDepth(q string, c queue.Counts) {
	s.queueDepth.WithLabelValues(q, string(queue.StateWaiting)).Set(float64(c.Waiting))
	s.queueDepth.WithLabelValues(q, string(queue.StateDelayed)).Set(float64(c.Delayed))
	s.queueDepth.WithLabelValues(q, string(queue.StateActive)).Set(float64(c.Active))
	s.queueDepth.WithLabelValues(q, string(queue.StateCompleted)).Set(float64(c.Completed))
	s.queueDepth.WithLabelValues(q, string(queue.StateFailed)).Set(float64(c.Failed))
}

func (s *PrometheusSink) EventsDropped(total uint64) { s.eventsDropped.Set(float64(total)) }
