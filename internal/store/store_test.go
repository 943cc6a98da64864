package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"meetflow/internal/domain"
	logx "meetflow/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "meetflow.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConnection(t *testing.T, s *Store, autoRecord bool) (domain.Organization, domain.Connection) {
	t.Helper()
	ctx := context.Background()
	org, err := s.CreateOrganization(ctx, domain.Organization{Name: "Acme", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	conn, err := s.CreateConnection(ctx, domain.Connection{OrganizationID: org.ID, Provider: "google", AutoRecord: autoRecord, SyncEnabled: true})
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	return org, conn
}

func TestUpsertEventIsKeyedByExternalID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	org, conn := seedConnection(t, s, true)
	start := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	ev := domain.CalendarEvent{ConnectionID: conn.ID, OrganizationID: org.ID, ExternalID: "ext-1", Title: "Standup", StartAt: start, EndAt: start.Add(30 * time.Minute)}
	first, created, err := s.UpsertEvent(ctx, ev)
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	ev.Title = "Daily standup"
	second, created, err := s.UpsertEvent(ctx, ev)
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same id, got %s and %s", first.ID, second.ID)
	}
}

func TestAutoRecordCandidatesWindow(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	org, conn := seedConnection(t, s, true)
	_, off := seedConnection(t, s, false)
	now := time.Now().Truncate(time.Millisecond)

	add := func(c domain.Connection, ext, url string, start time.Time, status domain.EventStatus) {
		t.Helper()
		_, _, err := s.UpsertEvent(ctx, domain.CalendarEvent{
			ConnectionID: c.ID, OrganizationID: c.OrganizationID, ExternalID: ext,
			MeetingURL: url, StartAt: start, EndAt: start.Add(time.Hour), Status: status,
		})
		if err != nil {
			t.Fatalf("UpsertEvent %s: %v", ext, err)
		}
	}
	add(conn, "in", "https://meet.google.com/abc-defg-hij", now.Add(5*time.Minute), domain.EventConfirmed)
	add(conn, "late", "https://meet.google.com/abc-defg-hij", now.Add(time.Hour), domain.EventConfirmed)
	add(conn, "nolink", "", now.Add(time.Minute), domain.EventConfirmed)
	add(conn, "cancelled", "https://zoom.us/j/1", now.Add(time.Minute), domain.EventCancelled)
	add(off, "off", "https://zoom.us/j/2", now.Add(time.Minute), domain.EventConfirmed)

	got, err := s.AutoRecordCandidates(ctx, now.Add(-2*time.Minute), now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("AutoRecordCandidates: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "in" || got[0].OrganizationID != org.ID {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestCreateMeetingConflictsWhileActive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	org, _ := seedConnection(t, s, true)

	m, err := s.CreateMeeting(ctx, domain.Meeting{OrganizationID: org.ID, CalendarEventID: "ev-1", MeetingURL: "https://zoom.us/j/123"})
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	if _, err := s.CreateMeeting(ctx, domain.Meeting{OrganizationID: org.ID, CalendarEventID: "ev-1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.UpdateMeeting(ctx, m.ID, MeetingUpdate{Status: domain.MeetingFailed, Error: "boom"}); err != nil {
		t.Fatalf("UpdateMeeting: %v", err)
	}
	// A terminal meeting releases the key.
	if _, err := s.CreateMeeting(ctx, domain.Meeting{OrganizationID: org.ID, CalendarEventID: "ev-1"}); err != nil {
		t.Fatalf("CreateMeeting after failure: %v", err)
	}
	n, err := s.CountActiveMeetings(ctx, org.ID, "ev-1")
	if err != nil || n != 1 {
		t.Fatalf("CountActiveMeetings = %d, %v", n, err)
	}
}

func TestActiveBotForURLNormalizes(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	org, _ := seedConnection(t, s, true)

	m, err := s.CreateMeeting(ctx, domain.Meeting{OrganizationID: org.ID, CalendarEventID: "ev-1", MeetingURL: "https://us02web.zoom.us/j/555?pwd=x"})
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	// A scheduled meeting holds the link before its bot id is written.
	if got, err := s.ActiveBotForURL(ctx, org.ID, "https://zoom.us/j/555"); err != nil || got.ID != m.ID {
		t.Fatalf("scheduled meeting must hold the link: %+v, %v", got, err)
	}
	if _, err := s.UpdateMeeting(ctx, m.ID, MeetingUpdate{Status: domain.MeetingJoining, BotID: "bot-1"}); err != nil {
		t.Fatalf("UpdateMeeting: %v", err)
	}
	got, err := s.ActiveBotForURL(ctx, org.ID, "https://zoom.us/j/555")
	if err != nil {
		t.Fatalf("ActiveBotForURL: %v", err)
	}
	if got.ID != m.ID || got.BotID != "bot-1" {
		t.Fatalf("unexpected meeting: %+v", got)
	}
	if _, err := s.ActiveBotForURL(ctx, "other-org", "https://zoom.us/j/555"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other org must not match, got %v", err)
	}
	if _, err := s.UpdateMeeting(ctx, m.ID, MeetingUpdate{Status: domain.MeetingFailed}); err != nil {
		t.Fatalf("UpdateMeeting: %v", err)
	}
	if _, err := s.ActiveBotForURL(ctx, org.ID, "https://zoom.us/j/555"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed meeting must release the link, got %v", err)
	}
}

func TestUpdateMeetingRejectsBackwardTransition(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	m, err := s.CreateMeeting(ctx, domain.Meeting{OrganizationID: "org", CalendarEventID: "ev"})
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	if _, err := s.UpdateMeeting(ctx, m.ID, MeetingUpdate{Status: domain.MeetingCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	var te InvalidTransitionError
	if _, err := s.UpdateMeeting(ctx, m.ID, MeetingUpdate{Status: domain.MeetingJoining}); !errors.As(err, &te) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestStartSyncRunTakesOverStaleRun(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	first, err := s.StartSyncRun(ctx, "conn", domain.SyncIncremental, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StartSyncRun: %v", err)
	}
	if _, err := s.StartSyncRun(ctx, "conn", domain.SyncIncremental, now.Add(-time.Hour)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.StartSyncRun(ctx, "conn", domain.SyncFull, now.Add(-time.Hour)); err != nil {
		t.Fatalf("other sync type must not conflict: %v", err)
	}

	now = now.Add(2 * time.Hour)
	second, err := s.StartSyncRun(ctx, "conn", domain.SyncIncremental, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	old, err := s.GetSyncRun(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetSyncRun: %v", err)
	}
	if old.Status != domain.RunFailed || second.ID == first.ID {
		t.Fatalf("unexpected takeover: old=%+v new=%+v", old, second)
	}
}

func TestClaimDigestOncePerWeek(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	d, err := s.ClaimDigest(ctx, "org", "2026-10-12", time.Time{})
	if err != nil {
		t.Fatalf("ClaimDigest: %v", err)
	}
	if _, err := s.ClaimDigest(ctx, "org", "2026-10-12", time.Time{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.FinishDigest(ctx, d.ID, domain.RunFailed, 0); err != nil {
		t.Fatalf("FinishDigest: %v", err)
	}
	again, err := s.ClaimDigest(ctx, "org", "2026-10-12", time.Time{})
	if err != nil {
		t.Fatalf("reclaim after failure: %v", err)
	}
	if again.ID != d.ID {
		t.Fatalf("expected reopened delivery %s, got %s", d.ID, again.ID)
	}
}

func TestClaimDigestTakesOverStaleClaim(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	first, err := s.ClaimDigest(ctx, "org", "2026-10-12", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ClaimDigest: %v", err)
	}
	// The worker died without FinishDigest; a fresh claim is still held.
	now = now.Add(30 * time.Minute)
	if _, err := s.ClaimDigest(ctx, "org", "2026-10-12", now.Add(-time.Hour)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	now = now.Add(2 * time.Hour)
	again, err := s.ClaimDigest(ctx, "org", "2026-10-12", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected reopened delivery %s, got %s", first.ID, again.ID)
	}
	// The takeover restarts the clock, so an immediate second takeover fails.
	if _, err := s.ClaimDigest(ctx, "org", "2026-10-12", now.Add(-time.Hour)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after takeover, got %v", err)
	}

	if err := s.FinishDigest(ctx, again.ID, domain.RunCompleted, 3); err != nil {
		t.Fatalf("FinishDigest: %v", err)
	}
	now = now.Add(24 * time.Hour)
	if _, err := s.ClaimDigest(ctx, "org", "2026-10-12", now.Add(-time.Hour)); !errors.Is(err, ErrConflict) {
		t.Fatalf("completed digest must stay claimed, got %v", err)
	}
}

func TestWebhookEndpointsFilterByEvent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	for _, w := range []domain.WebhookEndpoint{
		{OrganizationID: "org", URL: "https://a.example/hook", Events: []string{"bot.deployed"}, Enabled: true},
		{OrganizationID: "org", URL: "https://b.example/hook", Enabled: true},
		{OrganizationID: "org", URL: "https://c.example/hook", Enabled: false},
		{OrganizationID: "org", URL: "https://d.example/hook", Events: []string{"digest.sent"}, Enabled: true},
	} {
		if _, err := s.CreateWebhookEndpoint(ctx, w); err != nil {
			t.Fatalf("CreateWebhookEndpoint: %v", err)
		}
	}
	got, err := s.WebhookEndpoints(ctx, "org", "bot.deployed")
	if err != nil {
		t.Fatalf("WebhookEndpoints: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 endpoints, got %+v", got)
	}
}

func TestDedupExpiry(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.PutDedup(ctx, "alert:x", now.Add(time.Minute)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if _, ok, err := s.GetDedup(ctx, "alert:x"); err != nil || !ok {
		t.Fatalf("GetDedup: ok=%v err=%v", ok, err)
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := s.GetDedup(ctx, "alert:x"); ok {
		t.Fatalf("expired key must report !ok")
	}
	if _, ok, _ := s.GetDedup(ctx, "missing"); ok {
		t.Fatalf("missing key must report !ok")
	}
}

func TestRebindPostgres(t *testing.T) {
	t.Parallel()
	s := &Store{dialect: dialectPostgres}
	if got := s.rebind("a = ? AND b IN (?,?)"); got != "a = $1 AND b IN ($2,$3)" {
		t.Fatalf("rebind = %q", got)
	}
}
