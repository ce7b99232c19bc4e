package core

import (
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	cases := []struct {
		expr string
		want time.Time
	}{
		{"30m", now.Add(-30 * time.Minute)},
		{"2h", now.Add(-2 * time.Hour)},
		{"3D", now.Add(-72 * time.Hour)},
		{"1w", now.Add(-7 * 24 * time.Hour)},
		{"today", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"Yesterday", time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)},
		{"2026-01-02", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"2026-03-01T10:00:00Z", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseSince(tc.expr, now)
		if err != nil {
			t.Fatalf("ParseSince(%q): %v", tc.expr, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ParseSince(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestParseSinceRejects(t *testing.T) {
	now := time.Now()
	for _, expr := range []string{"", "m", "0h", "-2h", "soon", "12x"} {
		if _, err := ParseSince(expr, now); err == nil {
			t.Fatalf("expected %q to be rejected", expr)
		}
	}
}
