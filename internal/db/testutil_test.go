package db

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/types"
)

// stepClock advances one millisecond per reading so records order
// deterministically.
type stepClock struct{ ms atomic.Int64 }

func newStepClock() *stepClock {
	c := &stepClock{}
	c.ms.Store(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli())
	return c
}

func (c *stepClock) Now() time.Time {
	return time.UnixMilli(c.ms.Add(1))
}

func testWorkspace(t *testing.T) core.Workspace {
	t.Helper()
	root := t.TempDir()
	return core.Workspace{Root: root, Dir: root + "/.murmur"}
}

func openTestLocal(t *testing.T, ws core.Workspace, user string, clock *stepClock) *Local {
	t.Helper()
	l, err := Open(ws, Options{UserID: user, Now: clock.Now, Heartbeat: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("open %s: %v", user, err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func textOf(msg types.Message) string {
	return msg.Content()
}
