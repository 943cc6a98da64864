package jobs

// Queue names.
const (
	QueueAutoRecord   = "auto-record"
	QueueCalendarSync = "calendar-sync"
	QueueWeeklyDigest = "weekly-digest"
	QueueEmail        = "email"
	QueueWebhooks     = "webhooks"
)

// Job names.
const (
	JobScanAutoRecord = "scan-auto-record"
	JobSyncCalendars  = "sync-calendars"
	JobSyncConnection = "sync-connection"
	JobWeeklyDigest   = "send-weekly-digest"
	JobSendEmail      = "send-email"
	JobDeliverWebhook = "deliver-webhook"
)

// Recurring trigger names.
const (
	TriggerAutoRecord   = "auto-record-poll"
	TriggerCalendarSync = "calendar-sync-poll"
	TriggerWeeklyDigest = "weekly-digest"
)

// Webhook event names.
const (
	EventBotDeployed     = "bot.deployed"
	EventBotFailed       = "bot.failed"
	EventMeetingCanceled = "meeting.cancelled"
	EventDigestSent      = "digest.sent"
)

// QueueNames lists every queue meetflowd consumes.
var QueueNames = []string{QueueAutoRecord, QueueCalendarSync, QueueWeeklyDigest, QueueEmail, QueueWebhooks}
