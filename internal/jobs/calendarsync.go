package jobs

import (
	"context"
	"errors"
	"fmt"

	"meetflow/internal/domain"
	"meetflow/internal/outcome"
	"meetflow/internal/provider"
	"meetflow/internal/provider/calendar"
	"meetflow/internal/queue"
	logx "meetflow/pkg/logx"
)

// CalendarSync pulls calendar changes. The periodic job fans out one
// sync-connection job per connection; each of those claims the connection's
// SyncRun so two passes over the same calendar never overlap.
type CalendarSync struct {
	deps   Deps
	notify *Notifier
	log    logx.Logger
}

type syncConnectionPayload struct {
	ConnectionID string `json:"connection_id"`
	Full         bool   `json:"full,omitempty"`
}

func (c *CalendarSync) HandleFanout(ctx context.Context, job *queue.Job) (any, error) {
	conns, err := c.deps.Store.SyncConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	q := c.deps.Queues.Queue(QueueCalendarSync)
	rec := outcome.NewRecorder(JobSyncCalendars)
	for _, conn := range conns {
		rec.Processed()
		// One child per connection and tick: a redelivered fan-out job adds nothing.
		_, err := q.Add(ctx, JobSyncConnection, syncConnectionPayload{ConnectionID: conn.ID},
			queue.Options{JobID: "sync:" + conn.ID + ":" + job.ID})
		switch {
		case errors.Is(err, queue.ErrDuplicate):
			rec.Skipped()
		case err != nil:
			rec.Error(err)
			c.log.Warn("enqueue connection sync failed", logx.String("connection", conn.ID), logx.Err(err))
		default:
			rec.Created()
		}
	}
	return rec.Log(c.log, logx.String("job", job.ID)), nil
}

func (c *CalendarSync) HandleConnection(ctx context.Context, job *queue.Job) (any, error) {
	var p syncConnectionPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	conn, err := c.deps.Store.GetConnection(ctx, p.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection %s: %w", p.ConnectionID, err)
	}
	log := c.log.With(logx.String("connection", conn.ID), logx.String("org", conn.OrganizationID))

	syncType := domain.SyncIncremental
	token := conn.SyncToken
	if p.Full || token == "" {
		syncType, token = domain.SyncFull, ""
	}
	run, d, err := c.deps.Guard.BeginSync(ctx, conn.ID, syncType)
	if err != nil {
		return nil, err
	}
	rec := outcome.NewRecorder(JobSyncConnection)
	if d.Skip {
		rec.Skipped()
		return rec.Log(log, logx.String("reason", d.Reason)), nil
	}

	events, next, err := c.deps.Calendar.ListEvents(ctx, calendar.ListRequest{ConnectionID: conn.ID, SyncToken: token})
	if errors.Is(err, calendar.ErrSyncTokenExpired) {
		log.Info("sync token expired; running full sync")
		events, next, err = c.deps.Calendar.ListEvents(ctx, calendar.ListRequest{ConnectionID: conn.ID})
	}
	if err != nil {
		c.finish(ctx, run, rec, err)
		return nil, provider.JobError(fmt.Errorf("list events: %w", err))
	}

	for _, e := range events {
		rec.Processed()
		if err := c.applyEvent(ctx, conn, e, rec); err != nil {
			rec.Error(err)
			log.Warn("apply calendar event failed", logx.String("external_id", e.ID), logx.Err(err))
		}
	}
	if next != "" {
		if err := c.deps.Store.UpdateSyncCursor(ctx, conn.ID, next, c.deps.Now()); err != nil {
			c.finish(ctx, run, rec, err)
			return nil, fmt.Errorf("store sync cursor: %w", err)
		}
	}
	c.finish(ctx, run, rec, nil)
	return rec.Log(log, logx.String("type", syncType)), nil
}

func (c *CalendarSync) applyEvent(ctx context.Context, conn domain.Connection, e calendar.Event, rec *outcome.Recorder) error {
	status := domain.EventConfirmed
	if e.Cancelled {
		status = domain.EventCancelled
	}
	stored, created, err := c.deps.Store.UpsertEvent(ctx, domain.CalendarEvent{
		ConnectionID:   conn.ID,
		OrganizationID: conn.OrganizationID,
		ExternalID:     e.ID,
		Title:          e.Title,
		MeetingURL:     e.MeetingURL,
		StartAt:        e.StartAt,
		EndAt:          e.EndAt,
		Status:         status,
	})
	if err != nil {
		return err
	}
	if created {
		rec.Created()
	} else {
		rec.Updated()
	}
	if status != domain.EventCancelled {
		return nil
	}

	cancelled, err := c.deps.Store.CancelScheduledForEvent(ctx, conn.OrganizationID, stored.ID)
	if err != nil {
		return fmt.Errorf("cancel meetings: %w", err)
	}
	for _, m := range cancelled {
		if m.BotID != "" {
			if err := c.deps.Bots.Cancel(ctx, m.BotID); err != nil {
				c.log.Warn("cancel bot failed", logx.String("meeting", m.ID), logx.String("bot", m.BotID), logx.Err(err))
			}
		}
		c.notify.Notify(ctx, m.OrganizationID, EventMeetingCanceled, m.ID, botEventPayload{
			MeetingID: m.ID, CalendarEventID: stored.ID, MeetingURL: m.MeetingURL, BotID: m.BotID, JoinAt: m.JoinAt,
		})
	}
	return nil
}

// finish closes the run even when the job is failing; the bookkeeping
// context outlives a cancelled job context.
func (c *CalendarSync) finish(ctx context.Context, run domain.SyncRun, rec *outcome.Recorder, runErr error) {
	res := rec.Result()
	run.Created, run.Updated, run.Errors = int(res.Created), int(res.Updated), int(res.Errors)
	run.Status = domain.RunCompleted
	if runErr != nil {
		run.Status = domain.RunFailed
		run.Error = runErr.Error()
	}
	if err := c.deps.Store.FinishSyncRun(context.WithoutCancel(ctx), run); err != nil {
		c.log.Error("finish sync run failed", logx.String("run", run.ID), logx.Err(err))
	}
}
