package realtime

import (
	"time"

	"github.com/adamavenir/murmur/internal/metrics"
	"github.com/adamavenir/murmur/internal/types"
)

// DefaultHeartbeatTimeout is how long a subscription may stay silent before
// it is considered disconnected.
const DefaultHeartbeatTimeout = 15 * time.Second

// Monitor tracks the connection state of one subscription.
type Monitor struct {
	timeout  time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	state    types.ConnectionState
	lastSeen time.Time
}

// NewMonitor starts in the connecting state.
func NewMonitor(timeout time.Duration, now func() time.Time, m *metrics.Metrics) *Monitor {
	if now == nil {
		now = time.Now
	}
	mon := &Monitor{timeout: timeout, now: now, metrics: m, state: types.ConnConnecting, lastSeen: now()}
	m.Transition("", string(types.ConnConnecting))
	return mon
}

// State returns the current connection state.
func (m *Monitor) State() types.ConnectionState { return m.state }

// Status applies a state reported by the channel. It reports whether the
// transition requires a reconciliation.
func (m *Monitor) Status(state types.ConnectionState) bool {
	if m.state == types.ConnClosed {
		return false
	}
	prev := m.state
	m.set(state)
	if state == types.ConnConnected {
		m.lastSeen = m.now()
		return prev != types.ConnConnected
	}
	return false
}

// Seen records activity. An event on a subscription believed dead brings it
// back and requires a reconciliation.
func (m *Monitor) Seen() bool {
	if m.state == types.ConnClosed {
		return false
	}
	m.lastSeen = m.now()
	if m.state == types.ConnConnected {
		return false
	}
	m.set(types.ConnConnected)
	return true
}

// Check flips a silent connection to disconnected. It reports whether the
// state changed.
func (m *Monitor) Check() bool {
	if m.state != types.ConnConnected || m.timeout <= 0 {
		return false
	}
	if m.now().Sub(m.lastSeen) <= m.timeout {
		return false
	}
	m.set(types.ConnDisconnected)
	return true
}

// Close marks the subscription closed; later reports are ignored.
func (m *Monitor) Close() {
	m.set(types.ConnClosed)
	m.metrics.Transition(string(types.ConnClosed), "")
}

func (m *Monitor) set(state types.ConnectionState) {
	m.metrics.Transition(string(m.state), string(state))
	m.state = state
}
