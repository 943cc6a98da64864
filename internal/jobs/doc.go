// Package jobs holds the queue handlers of meetflowd and the recurring
// triggers that drive them.
//
// Every scan follows the same shape: enumerate candidates from the store,
// ask the dedup guard, perform the external action, persist the work unit
// and count the verdict in an outcome.Recorder. A failing candidate is
// counted and logged; only failures that make the whole scan meaningless
// (the store is unreachable) are returned to the queue for a retry.
package jobs
