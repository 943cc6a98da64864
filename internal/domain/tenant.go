package domain

import "time"

type Organization struct {
	ID        string
	Name      string
	Timezone  string
	CreatedAt time.Time
}

// Member is a user of an organization; digest recipients are members with
// DigestEnabled.
type Member struct {
	OrganizationID string
	Email          string
	Name           string
	DigestEnabled  bool
}

// Connection is a linked calendar account.
type Connection struct {
	ID             string
	OrganizationID string
	Provider       string
	AccountEmail   string
	// AutoRecord opts the connection's events into bot deployment.
	AutoRecord  bool
	SyncEnabled bool
	// SyncToken is the provider's incremental sync cursor.
	SyncToken    string
	LastSyncedAt time.Time
	CreatedAt    time.Time
}

type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventCancelled EventStatus = "cancelled"
)

// CalendarEvent is a synced event. ID is our id; ExternalID is the provider's.
type CalendarEvent struct {
	ID             string
	ConnectionID   string
	OrganizationID string
	ExternalID     string
	Title          string
	MeetingURL     string
	StartAt        time.Time
	EndAt          time.Time
	Status         EventStatus
	UpdatedAt      time.Time
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SyncRun is one calendar sync pass. Natural key: (ConnectionID, SyncType)
// while running.
type SyncRun struct {
	ID           string
	ConnectionID string
	SyncType     string
	Status       RunStatus
	Created      int
	Updated      int
	Errors       int
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

const (
	SyncIncremental = "incremental"
	SyncFull        = "full"
)

// DigestDelivery records one weekly digest per organization and week.
type DigestDelivery struct {
	ID             string
	OrganizationID string
	// WeekStart is the Monday of the covered week, formatted 2006-01-02.
	WeekStart  string
	Status     RunStatus
	Recipients int
	CreatedAt  time.Time
	FinishedAt time.Time
}

// WebhookEndpoint receives signed lifecycle notifications for an organization.
type WebhookEndpoint struct {
	ID             string
	OrganizationID string
	URL            string
	Secret         string
	// Events lists subscribed event names; empty means all.
	Events  []string
	Enabled bool
}

// Wants reports whether the endpoint subscribes to event.
func (w WebhookEndpoint) Wants(event string) bool {
	if !w.Enabled {
		return false
	}
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// WeekStart returns the Monday 00:00 of t's week in t's location.
func WeekStart(t time.Time) time.Time {
	wd := (int(t.Weekday()) + 6) % 7 // Monday=0
	y, m, d := t.Date()
	return time.Date(y, m, d-wd, 0, 0, 0, 0, t.Location())
}
