package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetflow/internal/domain"
	"meetflow/internal/outcome"
	"meetflow/internal/provider"
	"meetflow/internal/provider/mail"
	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

// WeeklyDigest sends each organization a summary of last week's recorded
// meetings, once per (organization, week).
type WeeklyDigest struct {
	deps   Deps
	notify *Notifier
	log    logx.Logger
}

type emailPayload struct {
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Text           string `json:"text"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (w *WeeklyDigest) Handle(ctx context.Context, job *queue.Job) (any, error) {
	orgs, err := w.deps.Store.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	rec := outcome.NewRecorder(QueueWeeklyDigest)
	for _, org := range orgs {
		if ctx.Err() != nil {
			break
		}
		rec.Processed()
		if err := w.sendOrg(ctx, org, rec); err != nil {
			rec.Error(err)
			w.log.Warn("weekly digest failed", logx.String("org", org.ID), logx.Err(err))
		}
	}
	return rec.Log(w.log, logx.String("job", job.ID)), nil
}

func (w *WeeklyDigest) location(org domain.Organization) *time.Location {
	if org.Timezone != "" {
		if loc, err := time.LoadLocation(org.Timezone); err == nil {
			return loc
		}
	}
	return w.deps.Location
}

func (w *WeeklyDigest) sendOrg(ctx context.Context, org domain.Organization, rec *outcome.Recorder) error {
	// The digest covers the previous full week.
	thisWeek := domain.WeekStart(w.deps.Now().In(w.location(org)))
	from := thisWeek.AddDate(0, 0, -7)

	delivery, d, err := w.deps.Guard.ClaimDigest(ctx, org.ID, from)
	if err != nil {
		return err
	}
	if d.Skip {
		rec.Skipped()
		return nil
	}
	sent, err := w.enqueue(ctx, org, delivery, from, thisWeek)
	status := domain.RunCompleted
	if err != nil {
		status = domain.RunFailed
	}
	if ferr := w.deps.Store.FinishDigest(context.WithoutCancel(ctx), delivery.ID, status, sent); ferr != nil {
		w.log.Error("finish digest failed", logx.String("digest", delivery.ID), logx.Err(ferr))
	}
	if err != nil {
		return err
	}
	rec.Created()
	w.notify.Notify(ctx, org.ID, EventDigestSent, delivery.WeekStart, map[string]any{
		"organization_id": org.ID, "week_start": delivery.WeekStart, "recipients": sent,
	})
	return nil
}

func (w *WeeklyDigest) enqueue(ctx context.Context, org domain.Organization, delivery domain.DigestDelivery, from, to time.Time) (int, error) {
	meetings, err := w.deps.Store.CompletedMeetings(ctx, org.ID, from, to)
	if err != nil {
		return 0, fmt.Errorf("completed meetings: %w", err)
	}
	recipients, err := w.deps.Store.DigestRecipients(ctx, org.ID)
	if err != nil {
		return 0, fmt.Errorf("recipients: %w", err)
	}
	subject := fmt.Sprintf("%s: your meetings for the week of %s", org.Name, delivery.WeekStart)
	body := renderDigest(meetings)

	q := w.deps.Queues.Queue(QueueEmail)
	sent := 0
	for _, m := range recipients {
		key := "digest:" + org.ID + ":" + delivery.WeekStart + ":" + m.Email
		_, err := q.Add(ctx, JobSendEmail, emailPayload{To: m.Email, Subject: subject, Text: body, IdempotencyKey: key}, queue.Options{JobID: key})
		if err != nil && !errors.Is(err, queue.ErrDuplicate) {
			return sent, fmt.Errorf("enqueue email for %s: %w", m.Email, err)
		}
		sent++
	}
	return sent, nil
}

func renderDigest(meetings []domain.Meeting) string {
	if len(meetings) == 0 {
		return "No meetings were recorded last week.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d meetings were recorded last week:\n\n", len(meetings))
	for _, m := range meetings {
		title := m.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", title, m.JoinAt.Format("Mon Jan 2 15:04"))
	}
	return b.String()
}

func sendEmail(mailer Mailer) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		var p emailPayload
		if err := decodePayload(job, &p); err != nil {
			return nil, err
		}
		id, err := mailer.Send(ctx, mail.Message{To: p.To, Subject: p.Subject, Text: p.Text, IdempotencyKey: p.IdempotencyKey})
		if err != nil {
			return nil, provider.JobError(err)
		}
		return map[string]string{"message_id": id}, nil
	}
}
