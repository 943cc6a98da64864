package domain

import (
	"testing"
	"time"
)

func TestNormalizeMeetingURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		same bool
	}{
		{"https://meet.google.com/abc-defg-hij", "meet.google.com/ABC-DEFG-HIJ/", true},
		{"https://us02web.zoom.us/j/123456?pwd=xyz", "https://zoom.us/j/123456", true},
		{"https://www.zoom.us/j/123456", "https://zoom.us/j/654321", false},
		{"https://meet.google.com/abc-defg-hij", "https://meet.google.com/xyz-defg-hij", false},
	}
	for _, tt := range tests {
		got := NormalizeMeetingURL(tt.a) == NormalizeMeetingURL(tt.b)
		if got != tt.same {
			t.Fatalf("%q vs %q: same=%v, want %v (%q, %q)", tt.a, tt.b, got, tt.same, NormalizeMeetingURL(tt.a), NormalizeMeetingURL(tt.b))
		}
	}
	if NormalizeMeetingURL("  ") != "" {
		t.Fatal("blank url should normalize to empty")
	}
	if h := MeetingURLHost("https://us02web.zoom.us/j/1"); h != "zoom.us" {
		t.Fatalf("host = %q", h)
	}
}

func TestMeetingTransitions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to MeetingStatus
		ok       bool
	}{
		{MeetingScheduled, MeetingJoining, true},
		{MeetingJoining, MeetingRecording, true},
		{MeetingRecording, MeetingJoining, false},
		{MeetingScheduled, MeetingFailed, true},
		{MeetingCompleted, MeetingFailed, false},
		{MeetingCancelled, MeetingScheduled, false},
		{MeetingScheduled, MeetingStatus("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Fatalf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestWeekStart(t *testing.T) {
	t.Parallel()
	sun := time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC)
	if got := WeekStart(sun).Format("2006-01-02"); got != "2026-03-02" {
		t.Fatalf("WeekStart(sunday) = %s", got)
	}
	mon := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if got := WeekStart(mon).Format("2006-01-02"); got != "2026-03-02" {
		t.Fatalf("WeekStart(monday) = %s", got)
	}
}

func TestWebhookWants(t *testing.T) {
	t.Parallel()
	all := WebhookEndpoint{Enabled: true}
	some := WebhookEndpoint{Enabled: true, Events: []string{"bot.deployed"}}
	off := WebhookEndpoint{Enabled: false}
	if !all.Wants("x") || !some.Wants("bot.deployed") || some.Wants("bot.failed") || off.Wants("bot.deployed") {
		t.Fatal("unexpected Wants result")
	}
}
