// Package dedup decides whether a candidate external action may proceed.
//
// Every scan asks the guard before it creates a work unit: a meeting is
// skipped when a non-terminal meeting already holds its calendar event, or
// when a bot is already on the same meeting link for the organization. Sync
// runs and digest deliveries are claimed through their natural keys.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetflow/internal/domain"
	"meetflow/internal/store"
	logx "meetflow/pkg/logx"
)

// Store is the subset of the tenant store the guard reads and claims from.
type Store interface {
	ActiveMeetingForEvent(ctx context.Context, orgID, calendarEventID string) (domain.Meeting, error)
	ActiveBotForURL(ctx context.Context, orgID, meetingURL string) (domain.Meeting, error)
	StartSyncRun(ctx context.Context, connectionID, syncType string, staleBefore time.Time) (domain.SyncRun, error)
	ClaimDigest(ctx context.Context, orgID, weekStart string, staleBefore time.Time) (domain.DigestDelivery, error)
}

// Candidate is a prospective bot deployment.
type Candidate struct {
	OrganizationID  string
	CalendarEventID string
	MeetingURL      string
}

// Skip reasons.
const (
	ReasonEventScheduled = "event_already_scheduled"
	ReasonBotOnURL       = "bot_already_on_url"
	ReasonSyncRunning    = "sync_already_running"
	ReasonDigestClaimed  = "digest_already_claimed"
)

// Decision is the guard's verdict. Skip is not an error.
type Decision struct {
	Skip     bool
	Reason   string
	Existing string // id of the unit holding the key
}

type Guard struct {
	store Store
	log   logx.Logger
	// SyncStaleAfter lets a new sync run take over a running one older than this.
	SyncStaleAfter time.Duration
	// DigestStaleAfter lets a digest claim still running after this be reclaimed.
	DigestStaleAfter time.Duration
	now              func() time.Time
}

func New(s Store, log logx.Logger) *Guard {
	return &Guard{
		store:            s,
		log:              log.With(logx.String("comp", "dedup")),
		SyncStaleAfter:   time.Hour,
		DigestStaleAfter: time.Hour,
		now:              time.Now,
	}
}

// CheckMeeting looks up the exact natural key first, then the meeting link.
func (g *Guard) CheckMeeting(ctx context.Context, c Candidate) (Decision, error) {
	log := g.log.With(logx.String("org", c.OrganizationID), logx.String("event", c.CalendarEventID))

	if c.CalendarEventID != "" {
		m, err := g.store.ActiveMeetingForEvent(ctx, c.OrganizationID, c.CalendarEventID)
		switch {
		case err == nil:
			d := Decision{Skip: true, Reason: ReasonEventScheduled, Existing: m.ID}
			log.Debug("dedup skip", logx.String("reason", d.Reason), logx.String("meeting", m.ID), logx.String("status", string(m.Status)))
			return d, nil
		case !errors.Is(err, store.ErrNotFound):
			return Decision{}, fmt.Errorf("lookup meeting by event: %w", err)
		}
	}

	if c.MeetingURL != "" {
		m, err := g.store.ActiveBotForURL(ctx, c.OrganizationID, c.MeetingURL)
		switch {
		case err == nil:
			d := Decision{Skip: true, Reason: ReasonBotOnURL, Existing: m.ID}
			log.Debug("dedup skip", logx.String("reason", d.Reason), logx.String("meeting", m.ID), logx.String("bot", m.BotID))
			return d, nil
		case !errors.Is(err, store.ErrNotFound):
			return Decision{}, fmt.Errorf("lookup meeting by url: %w", err)
		}
	}
	return Decision{}, nil
}

// BeginSync claims the (connection, sync type) key. A held key yields a skip
// decision and a zero run.
func (g *Guard) BeginSync(ctx context.Context, connectionID, syncType string) (domain.SyncRun, Decision, error) {
	var staleBefore time.Time
	if g.SyncStaleAfter > 0 {
		staleBefore = g.now().Add(-g.SyncStaleAfter)
	}
	run, err := g.store.StartSyncRun(ctx, connectionID, syncType, staleBefore)
	if errors.Is(err, store.ErrConflict) {
		d := Decision{Skip: true, Reason: ReasonSyncRunning}
		g.log.Debug("dedup skip", logx.String("reason", d.Reason), logx.String("connection", connectionID), logx.String("type", syncType))
		return domain.SyncRun{}, d, nil
	}
	if err != nil {
		return domain.SyncRun{}, Decision{}, fmt.Errorf("start sync run: %w", err)
	}
	return run, Decision{}, nil
}

// ClaimDigest claims the weekly digest of org for the week starting at week.
func (g *Guard) ClaimDigest(ctx context.Context, orgID string, week time.Time) (domain.DigestDelivery, Decision, error) {
	ws := domain.WeekStart(week).Format("2006-01-02")
	var staleBefore time.Time
	if g.DigestStaleAfter > 0 {
		staleBefore = g.now().Add(-g.DigestStaleAfter)
	}
	d, err := g.store.ClaimDigest(ctx, orgID, ws, staleBefore)
	if errors.Is(err, store.ErrConflict) {
		dec := Decision{Skip: true, Reason: ReasonDigestClaimed}
		g.log.Debug("dedup skip", logx.String("reason", dec.Reason), logx.String("org", orgID), logx.String("week", ws))
		return domain.DigestDelivery{}, dec, nil
	}
	if err != nil {
		return domain.DigestDelivery{}, Decision{}, fmt.Errorf("claim digest: %w", err)
	}
	return d, Decision{}, nil
}
