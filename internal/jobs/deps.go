package jobs

import (
	"context"
	"fmt"
	"time"

	"meetflow/internal/dedup"
	"meetflow/internal/domain"
	"meetflow/internal/provider/calendar"
	"meetflow/internal/provider/mail"
	"meetflow/internal/provider/meetingbot"
	"meetflow/internal/provider/webhook"
	"meetflow/internal/queue"
	"meetflow/internal/store"
	logx "meetflow/pkg/logx"
)

// Store is the tenant data the handlers read and write. *store.Store
// implements it.
type Store interface {
	ListOrganizations(ctx context.Context) ([]domain.Organization, error)
	DigestRecipients(ctx context.Context, orgID string) ([]domain.Member, error)

	SyncConnections(ctx context.Context) ([]domain.Connection, error)
	GetConnection(ctx context.Context, id string) (domain.Connection, error)
	UpdateSyncCursor(ctx context.Context, connectionID, token string, at time.Time) error
	UpsertEvent(ctx context.Context, e domain.CalendarEvent) (domain.CalendarEvent, bool, error)
	AutoRecordCandidates(ctx context.Context, from, to time.Time) ([]domain.CalendarEvent, error)

	CreateMeeting(ctx context.Context, m domain.Meeting) (domain.Meeting, error)
	UpdateMeeting(ctx context.Context, id string, u store.MeetingUpdate) (domain.Meeting, error)
	CancelScheduledForEvent(ctx context.Context, orgID, calendarEventID string) ([]domain.Meeting, error)
	CompletedMeetings(ctx context.Context, orgID string, from, to time.Time) ([]domain.Meeting, error)

	FinishSyncRun(ctx context.Context, r domain.SyncRun) error
	FinishDigest(ctx context.Context, id string, status domain.RunStatus, recipients int) error

	WebhookEndpoints(ctx context.Context, orgID, event string) ([]domain.WebhookEndpoint, error)
	GetWebhookEndpoint(ctx context.Context, id string) (domain.WebhookEndpoint, error)
}

// Bots deploys and cancels recording bots.
type Bots interface {
	Deploy(ctx context.Context, req meetingbot.DeployRequest) (string, error)
	Cancel(ctx context.Context, botID string) error
}

type Calendar interface {
	ListEvents(ctx context.Context, req calendar.ListRequest) ([]calendar.Event, string, error)
}

type Mailer interface {
	Send(ctx context.Context, m mail.Message) (string, error)
}

type WebhookSender interface {
	Send(ctx context.Context, d webhook.Delivery) error
}

// Queues resolves named queues for follow-up jobs. *queue.Registry
// implements it.
type Queues interface {
	Queue(name string) *queue.Queue
}

// Deps wires the handlers.
type Deps struct {
	Store    Store
	Guard    *dedup.Guard
	Queues   Queues
	Bots     Bots
	Calendar Calendar
	Mailer   Mailer
	Webhooks WebhookSender
	Log      logx.Logger
	// Location is the default timezone for digests of organizations
	// without one.
	Location *time.Location
	Now      func() time.Time
}

// Handlers builds the handler of every queue.
func Handlers(d Deps, ar AutoRecordConfig) map[string]queue.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	notifier := &Notifier{store: d.Store, queues: d.Queues, log: d.Log.With(logx.String("comp", "webhooks"))}
	autoRecord := &AutoRecord{deps: d, cfg: ar, notify: notifier, log: d.Log.With(logx.String("comp", "auto-record"))}
	sync := &CalendarSync{deps: d, notify: notifier, log: d.Log.With(logx.String("comp", "calendar-sync"))}
	digest := &WeeklyDigest{deps: d, notify: notifier, log: d.Log.With(logx.String("comp", "weekly-digest"))}
	return map[string]queue.Handler{
		QueueAutoRecord: Route(map[string]queue.Handler{
			JobScanAutoRecord: autoRecord.Handle,
		}),
		QueueCalendarSync: Route(map[string]queue.Handler{
			JobSyncCalendars:  sync.HandleFanout,
			JobSyncConnection: sync.HandleConnection,
		}),
		QueueWeeklyDigest: Route(map[string]queue.Handler{
			JobWeeklyDigest: digest.Handle,
		}),
		QueueEmail: Route(map[string]queue.Handler{
			JobSendEmail: sendEmail(d.Mailer),
		}),
		QueueWebhooks: Route(map[string]queue.Handler{
			JobDeliverWebhook: deliverWebhook(d.Store, d.Webhooks),
		}),
	}
}

// Route dispatches a queue's jobs by job name. Unknown names fail
// permanently.
func Route(routes map[string]queue.Handler) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		h, ok := routes[job.Name]
		if !ok {
			return nil, queue.NoRetry(fmt.Errorf("no handler for job %q on queue %s", job.Name, job.Queue))
		}
		return h(ctx, job)
	}
}

func decodePayload(job *queue.Job, v any) error {
	if err := job.Decode(v); err != nil {
		return queue.NoRetry(fmt.Errorf("decode %s payload: %w", job.Name, err))
	}
	return nil
}
