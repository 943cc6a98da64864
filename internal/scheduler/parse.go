package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"meetflow/internal/queue"
)

// SpecKind describes the normalized kind of a cadence string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
	SpecWeekly
)

// ParsedSpec represents a parsed cadence.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 9 * * 1", "@hourly", "@every 15m"
//   - Interval duration: "15m", "2h30m"
//   - Interval HH:MM: "00:15" (15 minutes)
//   - Weekly: "monday 09:00", "mon 9:00"
//
// Optional prefixes "cron:" and "interval:"/"every:" force the form.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

var (
	reHHMM   = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reWeekly = regexp.MustCompile(`^(?i)\s*([a-z]+)\s+(\d{1,2}:\d{2})\s*$`)
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseSchedule parses a cadence string.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr}, nil
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalSpec(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalSpec(s[len("every:"):])
	}

	if m := reWeekly.FindStringSubmatch(s); m != nil {
		if wd, ok := weekdays[strings.ToLower(m[1])]; ok {
			h, mm, err := parseHHMM(m[2])
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Kind: SpecWeekly, Cron: fmt.Sprintf("%d %d * * %d", mm, h, int(wd))}, nil
		}
	}

	// Any whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}
	if reHHMM.MatchString(s) {
		return parseIntervalSpec(s)
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d}, nil
	}
	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', a weekday like 'monday 09:00', or a duration like '15m')",
		raw,
	)
}

func parseIntervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '15m')", v)
		}
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// ParseCadence normalizes any supported form to the cron expression stored on
// the recurring entry, and checks that it parses.
func ParseCadence(raw string) (string, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return "", err
	}
	expr := ps.Cron
	if ps.Kind == SpecInterval {
		expr = "@every " + ps.Every.String()
	}
	if _, err := queue.CronParser.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid cadence %q: %w", raw, err)
	}
	return expr, nil
}
