// Package queue is the durable job queue used by every background worker.
//
// A Registry owns one Broker (in-memory or Redis) and hands out named
// Queues. Jobs are added with Options (attempts, backoff, priority, delay,
// retained history) and consumed by a Worker with bounded concurrency and an
// optional rate limiter. Recurring entries are materialized into jobs by the
// Repeater using deterministic job ids, so several processes sharing one
// Redis never double-fire a tick.
//
// Lifecycle events (job.completed, job.failed, job.retrying, job.stalled)
// are published on the event bus as Event values.
package queue
