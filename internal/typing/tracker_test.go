package typing

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func TestTypingEntryExpiresAfterTTL(t *testing.T) {
	clock := newClock()
	tracker := NewTracker(3*time.Second, clock.Now)
	tracker.SetTyping("cnv-1", "bob", "Bob")

	clock.Advance(2 * time.Second)
	if got := tracker.TypingUsers("cnv-1", "alice"); len(got) != 1 || got[0].UserID != "bob" {
		t.Fatalf("at t+2s expected bob typing, got %+v", got)
	}

	clock.Advance(2 * time.Second)
	if got := tracker.TypingUsers("cnv-1", "alice"); len(got) != 0 {
		t.Fatalf("at t+4s expected no typing users, got %+v", got)
	}
}

func TestTypingEntryAbsentExactlyAtExpiry(t *testing.T) {
	clock := newClock()
	tracker := NewTracker(3*time.Second, clock.Now)
	tracker.SetTyping("cnv-1", "bob", "Bob")

	clock.Advance(3*time.Second - time.Millisecond)
	if got := tracker.TypingUsers("cnv-1", "alice"); len(got) != 1 {
		t.Fatalf("entry must not flicker before ttl elapses, got %+v", got)
	}
	clock.Advance(time.Millisecond)
	if got := tracker.TypingUsers("cnv-1", "alice"); len(got) != 0 {
		t.Fatalf("entry with expiresAt == now must be absent, got %+v", got)
	}
}

func TestRefreshExtendsExpiry(t *testing.T) {
	clock := newClock()
	tracker := NewTracker(3*time.Second, clock.Now)
	tracker.SetTyping("cnv-1", "bob", "Bob")
	clock.Advance(2 * time.Second)
	tracker.SetTyping("cnv-1", "bob", "")
	clock.Advance(2 * time.Second)

	got := tracker.TypingUsers("cnv-1", "alice")
	if len(got) != 1 {
		t.Fatalf("refreshed entry should survive, got %+v", got)
	}
	if got[0].DisplayName != "Bob" {
		t.Fatalf("display name should be kept on refresh, got %q", got[0].DisplayName)
	}
}

func TestTypingUsersExcludesCaller(t *testing.T) {
	clock := newClock()
	tracker := NewTracker(3*time.Second, clock.Now)
	tracker.SetTyping("cnv-1", "alice", "Alice")
	tracker.SetTyping("cnv-1", "carol", "Carol")
	tracker.SetTyping("cnv-1", "bob", "Bob")

	got := tracker.TypingUsers("cnv-1", "alice")
	if len(got) != 2 || got[0].UserID != "bob" || got[1].UserID != "carol" {
		t.Fatalf("expected [bob carol], got %+v", got)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	clock := newClock()
	tracker := NewTracker(3*time.Second, clock.Now)
	tracker.SetTyping("cnv-1", "bob", "Bob")
	tracker.SetTyping("cnv-2", "carol", "Carol")
	clock.Advance(2 * time.Second)
	tracker.SetTyping("cnv-2", "carol", "Carol")
	clock.Advance(2 * time.Second)

	changed := tracker.Sweep()
	if len(changed) != 1 || changed[0] != "cnv-1" {
		t.Fatalf("expected cnv-1 swept, got %v", changed)
	}
	if tracker.Len() != 1 {
		t.Fatalf("expected one live entry, got %d", tracker.Len())
	}
}

func TestClearRemovesEntry(t *testing.T) {
	tracker := NewTracker(0, nil)
	tracker.SetTyping("cnv-1", "bob", "Bob")
	if !tracker.Clear("cnv-1", "bob") {
		t.Fatalf("expected clear to report removal")
	}
	if tracker.Clear("cnv-1", "bob") {
		t.Fatalf("second clear should be a no-op")
	}
}

func TestThrottleAllowsOncePerInterval(t *testing.T) {
	clock := newClock()
	throttle := NewThrottle(time.Second, clock.Now)
	if !throttle.Allow("cnv-1") {
		t.Fatalf("first signal should pass")
	}
	if throttle.Allow("cnv-1") {
		t.Fatalf("second signal within interval should be dropped")
	}
	if !throttle.Allow("cnv-2") {
		t.Fatalf("other conversations are independent")
	}
	clock.Advance(time.Second)
	if !throttle.Allow("cnv-1") {
		t.Fatalf("signal after interval should pass")
	}
	throttle.Allow("cnv-1")
	throttle.Reset("cnv-1")
	if !throttle.Allow("cnv-1") {
		t.Fatalf("reset should allow an immediate signal")
	}
}
