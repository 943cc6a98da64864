package domain

import (
	"net/url"
	"strings"
	"time"
)

// MeetingStatus is the lifecycle of a bot deployment.
//
//	scheduled -> joining -> in_progress -> recording -> completed
//	any non-terminal -> failed | cancelled
type MeetingStatus string

const (
	MeetingScheduled  MeetingStatus = "scheduled"
	MeetingJoining    MeetingStatus = "joining"
	MeetingInProgress MeetingStatus = "in_progress"
	MeetingRecording  MeetingStatus = "recording"
	MeetingCompleted  MeetingStatus = "completed"
	MeetingFailed     MeetingStatus = "failed"
	MeetingCancelled  MeetingStatus = "cancelled"
)

// ActiveMeetingStatuses are the non-terminal states. A meeting in one of them
// holds its natural key.
var ActiveMeetingStatuses = []MeetingStatus{MeetingScheduled, MeetingJoining, MeetingInProgress, MeetingRecording}

func (s MeetingStatus) Terminal() bool {
	switch s {
	case MeetingCompleted, MeetingFailed, MeetingCancelled:
		return true
	}
	return false
}

func (s MeetingStatus) Valid() bool {
	switch s {
	case MeetingScheduled, MeetingJoining, MeetingInProgress, MeetingRecording,
		MeetingCompleted, MeetingFailed, MeetingCancelled:
		return true
	}
	return false
}

var meetingOrder = map[MeetingStatus]int{
	MeetingScheduled:  0,
	MeetingJoining:    1,
	MeetingInProgress: 2,
	MeetingRecording:  3,
}

// CanTransition reports whether a meeting may move from s to next. Active
// states only move forward; terminal states are final.
func (s MeetingStatus) CanTransition(next MeetingStatus) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next.Terminal() {
		return true
	}
	return meetingOrder[next] > meetingOrder[s]
}

// Meeting is one bot deployment, the work unit of the auto-record scan.
// Natural keys: (OrganizationID, CalendarEventID) and
// (OrganizationID, NormalizeMeetingURL(MeetingURL)).
type Meeting struct {
	ID              string
	OrganizationID  string
	CalendarEventID string
	Title           string
	MeetingURL      string
	Status          MeetingStatus
	BotID           string
	JoinAt          time.Time
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizeMeetingURL reduces a meeting link to the identity of the physical
// meeting: lowercased host without "www.", path without trailing slash, no
// query string (Zoom "pwd" and tracking params do not change the meeting).
func NormalizeMeetingURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.TrimRight(u.EscapedPath(), "/")
	switch {
	case strings.HasSuffix(host, "meet.google.com"):
		path = strings.ToLower(path)
	case strings.HasSuffix(host, "teams.microsoft.com"):
		// Teams links identify the meeting by their full path.
	default:
		if i := strings.Index(path, "/j/"); i >= 0 && strings.HasSuffix(host, "zoom.us") {
			// Regional subdomains (us02web.zoom.us) all join the same meeting.
			host = "zoom.us"
			path = path[i:]
		}
	}
	return host + path
}

// MeetingURLHost returns the lowercased host of a meeting link, or "".
func MeetingURLHost(raw string) string {
	n := NormalizeMeetingURL(raw)
	if i := strings.IndexByte(n, '/'); i >= 0 {
		return n[:i]
	}
	return n
}
