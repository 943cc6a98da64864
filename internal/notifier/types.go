package notifier

import (
	"context"
	"time"
)

// Config controls the async alert pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Alert is one operator message. Alerts sharing a Key are suppressed for
// DedupWindow; an empty Key dedups on the text.
type Alert struct {
	Priority int // 0 low.. 10 high
	Key      string
	Text     string
}

// Sender delivers rendered alert text to the operator channel.
type Sender interface {
	SendAlert(ctx context.Context, text string) error
}

// DedupStore persists suppression windows across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Bus event types.
const (
	EventQueued  = "alert.queued"
	EventSent    = "alert.sent"
	EventFailed  = "alert.failed"
	EventDeduped = "alert.deduped"
	EventDropped = "alert.dropped"
)

// AlertEvent is emitted on the event bus for alert lifecycle events.
type AlertEvent struct {
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
