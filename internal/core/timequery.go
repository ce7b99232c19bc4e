package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSince turns a time expression into an absolute instant relative to
// now. It accepts relative amounts (30m, 2h, 3d, 1w), "today", "yesterday",
// a date (2006-01-02) and RFC 3339 timestamps.
func ParseSince(expr string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if ts, ok := parseAbsoluteTime(trimmed, now); ok {
		return ts, nil
	}
	if ts, ok := parseRelativeTime(trimmed, now); ok {
		return ts, nil
	}
	if ts, err := time.ParseInLocation("2006-01-02", trimmed, now.Location()); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid time expression: %s", expr)
}

func parseRelativeTime(value string, now time.Time) (time.Time, bool) {
	if len(value) < 2 {
		return time.Time{}, false
	}
	var unit time.Duration
	switch strings.ToLower(value[len(value)-1:]) {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	default:
		return time.Time{}, false
	}
	amount, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || amount <= 0 {
		return time.Time{}, false
	}
	return now.Add(-time.Duration(amount) * unit), true
}

func parseAbsoluteTime(value string, now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch strings.ToLower(value) {
	case "today":
		return today, true
	case "yesterday":
		return today.AddDate(0, 0, -1), true
	}
	return time.Time{}, false
}
