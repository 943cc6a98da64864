package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetflow/internal/dedup"
	"meetflow/internal/domain"
	"meetflow/internal/outcome"
	"meetflow/internal/provider/meetingbot"
	"meetflow/internal/queue"
	"meetflow/internal/store"
	logx "meetflow/pkg/logx"
)

type AutoRecordConfig struct {
	// Events starting in [now-WindowBefore, now+WindowAfter] are candidates.
	WindowBefore time.Duration
	WindowAfter  time.Duration
	// JoinLead is how long before the start the bot joins.
	JoinLead time.Duration
	BotName  string
}

// AutoRecord deploys a bot for every upcoming auto-record event that has
// none yet. It runs on a concurrency 1 queue, so scans never overlap.
type AutoRecord struct {
	deps   Deps
	cfg    AutoRecordConfig
	notify *Notifier
	log    logx.Logger
}

type botEventPayload struct {
	MeetingID       string    `json:"meeting_id"`
	CalendarEventID string    `json:"calendar_event_id,omitempty"`
	MeetingURL      string    `json:"meeting_url"`
	BotID           string    `json:"bot_id,omitempty"`
	JoinAt          time.Time `json:"join_at"`
	Error           string    `json:"error,omitempty"`
}

func (a *AutoRecord) Handle(ctx context.Context, job *queue.Job) (any, error) {
	now := a.deps.Now()
	from, to := now.Add(-a.cfg.WindowBefore), now.Add(a.cfg.WindowAfter)
	events, err := a.deps.Store.AutoRecordCandidates(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	rec := outcome.NewRecorder(QueueAutoRecord)
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		rec.Processed()
		if err := a.handleEvent(ctx, ev, rec); err != nil {
			rec.Error(err)
			a.log.Warn("auto-record candidate failed",
				logx.String("org", ev.OrganizationID), logx.String("event", ev.ID), logx.Err(err))
		}
	}
	return rec.Log(a.log, logx.String("job", job.ID), logx.Int("candidates", len(events))), nil
}

func (a *AutoRecord) handleEvent(ctx context.Context, ev domain.CalendarEvent, rec *outcome.Recorder) error {
	d, err := a.deps.Guard.CheckMeeting(ctx, dedup.Candidate{
		OrganizationID:  ev.OrganizationID,
		CalendarEventID: ev.ID,
		MeetingURL:      ev.MeetingURL,
	})
	if err != nil {
		return err
	}
	if d.Skip {
		rec.Skipped()
		return nil
	}

	joinAt := ev.StartAt.Add(-a.cfg.JoinLead)
	m, err := a.deps.Store.CreateMeeting(ctx, domain.Meeting{
		OrganizationID:  ev.OrganizationID,
		CalendarEventID: ev.ID,
		Title:           ev.Title,
		MeetingURL:      ev.MeetingURL,
		Status:          domain.MeetingScheduled,
		JoinAt:          joinAt,
	})
	if errors.Is(err, store.ErrConflict) {
		// Another scan won the natural key between the check and the insert.
		rec.Skipped()
		return nil
	}
	if err != nil {
		return fmt.Errorf("create meeting: %w", err)
	}

	botID, err := a.deps.Bots.Deploy(ctx, meetingbot.DeployRequest{
		MeetingURL: ev.MeetingURL,
		JoinAt:     joinAt,
		BotName:    a.cfg.BotName,
		Metadata:   map[string]string{"meeting_id": m.ID, "organization_id": m.OrganizationID},
	})
	if err != nil {
		// Failing the meeting frees the key so the next scan tries again.
		if _, uerr := a.deps.Store.UpdateMeeting(ctx, m.ID, store.MeetingUpdate{Status: domain.MeetingFailed, Error: err.Error()}); uerr != nil {
			a.log.Error("mark meeting failed", logx.String("meeting", m.ID), logx.Err(uerr))
		}
		a.notify.Notify(ctx, m.OrganizationID, EventBotFailed, m.ID, botEventPayload{
			MeetingID: m.ID, CalendarEventID: ev.ID, MeetingURL: ev.MeetingURL, JoinAt: joinAt, Error: err.Error(),
		})
		return fmt.Errorf("deploy bot: %w", err)
	}
	if _, err := a.deps.Store.UpdateMeeting(ctx, m.ID, store.MeetingUpdate{BotID: botID}); err != nil {
		// The meeting row still holds the event and the link, so no second bot
		// is deployed; the bot id must be reconciled by hand.
		a.log.Error("bot deployed but bot id not stored",
			logx.String("meeting", m.ID), logx.String("bot", botID), logx.Err(err))
		return fmt.Errorf("store bot id: %w", err)
	}
	rec.Created()
	a.log.Info("bot deployed", logx.String("meeting", m.ID), logx.String("bot", botID), logx.Time("join_at", joinAt))
	a.notify.Notify(ctx, m.OrganizationID, EventBotDeployed, m.ID, botEventPayload{
		MeetingID: m.ID, CalendarEventID: ev.ID, MeetingURL: ev.MeetingURL, BotID: botID, JoinAt: joinAt,
	})
	return nil
}
