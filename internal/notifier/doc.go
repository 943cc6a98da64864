// Package notifier delivers operator alerts.
//
// Alerts are small, high-signal messages: a job that exhausted its attempts,
// a permanently rejected provider call. The service queues them, sends them
// through a Sender with a rate limit and bounded retries, and suppresses
// repeats of the same alert inside a dedup window. Suppression windows can be
// persisted so a restart loop does not re-page the operator.
//
// Watch converts terminal job.failed bus events into alerts.
//
// For debugging, the service keeps a small in-memory history of sent alerts.
package notifier
