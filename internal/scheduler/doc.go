// Package scheduler keeps exactly one recurring registration per trigger name
// on each queue. Registration is idempotent and safe to run on every start.
package scheduler
