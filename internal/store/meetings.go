package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"meetflow/internal/domain"
)

const meetingCols = `id, org_id, calendar_event_id, title, meeting_url, status, bot_id, join_at, error, created_at, updated_at`

func scanMeeting(sc scanner) (domain.Meeting, error) {
	var (
		m                      domain.Meeting
		status                 string
		join, created, updated int64
	)
	err := sc.Scan(&m.ID, &m.OrganizationID, &m.CalendarEventID, &m.Title, &m.MeetingURL, &status, &m.BotID, &join, &m.Error, &created, &updated)
	m.Status = domain.MeetingStatus(status)
	m.JoinAt, m.CreatedAt, m.UpdatedAt = fromMS(join), fromMS(created), fromMS(updated)
	return m, err
}

func activeStatusArgs() []any {
	out := make([]any, len(domain.ActiveMeetingStatuses))
	for i, st := range domain.ActiveMeetingStatuses {
		out[i] = string(st)
	}
	return out
}

// CreateMeeting inserts a meeting. A second active meeting for the same
// (organization, calendar event) fails with ErrConflict.
func (s *Store) CreateMeeting(ctx context.Context, m domain.Meeting) (domain.Meeting, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = domain.MeetingScheduled
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	_, err := s.exec(ctx, `INSERT INTO meetings(id, org_id, calendar_event_id, title, meeting_url, meeting_url_norm, status, bot_id, join_at, error, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.OrganizationID, m.CalendarEventID, m.Title, m.MeetingURL, domain.NormalizeMeetingURL(m.MeetingURL),
		string(m.Status), m.BotID, ms(m.JoinAt), m.Error, ms(now), ms(now))
	return m, err
}

func (s *Store) GetMeeting(ctx context.Context, id string) (domain.Meeting, error) {
	m, err := scanMeeting(s.queryRow(ctx, `SELECT `+meetingCols+` FROM meetings WHERE id = ?`, id))
	return m, notFound(err)
}

// ActiveMeetingForEvent finds the non-terminal meeting holding the
// (organization, calendar event) key.
func (s *Store) ActiveMeetingForEvent(ctx context.Context, orgID, calendarEventID string) (domain.Meeting, error) {
	args := append([]any{orgID, calendarEventID}, activeStatusArgs()...)
	m, err := scanMeeting(s.queryRow(ctx, `SELECT `+meetingCols+` FROM meetings
		WHERE org_id = ? AND calendar_event_id = ? AND status IN (`+placeholders(len(domain.ActiveMeetingStatuses))+`)
		ORDER BY created_at LIMIT 1`, args...))
	return m, notFound(err)
}

// ActiveBotForURL finds a non-terminal meeting of the organization on the
// same physical meeting link. A meeting holds the link from creation, before
// its bot id is stored: the bot may already be deployed.
func (s *Store) ActiveBotForURL(ctx context.Context, orgID, meetingURL string) (domain.Meeting, error) {
	norm := domain.NormalizeMeetingURL(meetingURL)
	if norm == "" {
		return domain.Meeting{}, ErrNotFound
	}
	args := append([]any{orgID, norm}, activeStatusArgs()...)
	m, err := scanMeeting(s.queryRow(ctx, `SELECT `+meetingCols+` FROM meetings
		WHERE org_id = ? AND meeting_url_norm = ? AND status IN (`+placeholders(len(domain.ActiveMeetingStatuses))+`)
		ORDER BY created_at LIMIT 1`, args...))
	return m, notFound(err)
}

// MeetingUpdate changes status and optionally bot id / error of a meeting.
type MeetingUpdate struct {
	Status domain.MeetingStatus
	BotID  string
	Error  string
}

// UpdateMeeting applies u if the status transition is allowed.
func (s *Store) UpdateMeeting(ctx context.Context, id string, u MeetingUpdate) (domain.Meeting, error) {
	m, err := s.GetMeeting(ctx, id)
	if err != nil {
		return m, err
	}
	if u.Status != "" && u.Status != m.Status {
		if !m.Status.CanTransition(u.Status) {
			return m, InvalidTransitionError{From: m.Status, To: u.Status}
		}
		m.Status = u.Status
	}
	if u.BotID != "" {
		m.BotID = u.BotID
	}
	if u.Error != "" {
		m.Error = u.Error
	}
	m.UpdatedAt = s.now()
	_, err = s.exec(ctx, `UPDATE meetings SET status = ?, bot_id = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(m.Status), m.BotID, m.Error, ms(m.UpdatedAt), m.ID)
	return m, err
}

// CancelScheduledForEvent cancels meetings of an event that have not joined
// yet and returns them.
func (s *Store) CancelScheduledForEvent(ctx context.Context, orgID, calendarEventID string) ([]domain.Meeting, error) {
	rows, err := s.query(ctx, `SELECT `+meetingCols+` FROM meetings WHERE org_id = ? AND calendar_event_id = ? AND status = ?`,
		orgID, calendarEventID, string(domain.MeetingScheduled))
	if err != nil {
		return nil, err
	}
	var pending []domain.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		pending = append(pending, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := pending[:0]
	for _, m := range pending {
		updated, err := s.UpdateMeeting(ctx, m.ID, MeetingUpdate{Status: domain.MeetingCancelled, Error: "calendar event cancelled"})
		if err != nil {
			return out, err
		}
		out = append(out, updated)
	}
	return out, nil
}

// CompletedMeetings lists meetings of org completed in [from, to).
func (s *Store) CompletedMeetings(ctx context.Context, orgID string, from, to time.Time) ([]domain.Meeting, error) {
	rows, err := s.query(ctx, `SELECT `+meetingCols+` FROM meetings
		WHERE org_id = ? AND status = ? AND updated_at >= ? AND updated_at < ? ORDER BY updated_at`,
		orgID, string(domain.MeetingCompleted), ms(from), ms(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountActiveMeetings counts non-terminal meetings per org+event, for tests
// and the admin API.
func (s *Store) CountActiveMeetings(ctx context.Context, orgID, calendarEventID string) (int, error) {
	args := append([]any{orgID, calendarEventID}, activeStatusArgs()...)
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM meetings WHERE org_id = ? AND calendar_event_id = ? AND status IN (`+
		placeholders(len(domain.ActiveMeetingStatuses))+`)`, args...).Scan(&n)
	return n, err
}

type InvalidTransitionError struct {
	From, To domain.MeetingStatus
}

func (e InvalidTransitionError) Error() string {
	return "store: invalid meeting transition " + string(e.From) + " -> " + string(e.To)
}
