package typing

import (
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits outgoing typing signals per conversation so keystrokes do
// not flood the service. One signal per interval, with a burst of one.
type Throttle struct {
	interval time.Duration
	now      func() time.Time
	limiters map[string]*rate.Limiter
}

// NewThrottle creates a throttle. Callers typically pass TTL/3 so the remote
// indicator is refreshed well before it expires.
func NewThrottle(interval time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		interval: interval,
		now:      now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a typing signal may be sent now.
func (t *Throttle) Allow(conversationID string) bool {
	if t.interval <= 0 {
		return true
	}
	l, ok := t.limiters[conversationID]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[conversationID] = l
	}
	return l.AllowN(t.now(), 1)
}

// Reset forgets the limiter, so the next keystroke after a send signals at once.
func (t *Throttle) Reset(conversationID string) {
	delete(t.limiters, conversationID)
}
