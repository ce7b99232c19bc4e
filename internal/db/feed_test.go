package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
)

type recorder struct {
	mu     sync.Mutex
	events []types.Event
	states []types.ConnectionState
}

func (r *recorder) handler() service.Handler {
	return service.HandlerFuncs{
		Event: func(ev types.Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		},
		Status: func(state types.ConnectionState, err error) {
			r.mu.Lock()
			r.states = append(r.states, state)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) count(match func(types.Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFeedDeliversOtherProcessWrites(t *testing.T) {
	alice, bob, conv := setupPair(t)
	ctx := context.Background()

	rec := &recorder{}
	sub, err := bob.Subscribe(ctx, conv.ID, rec.handler())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	other, err := alice.EnsureConversation(ctx, "usr-alice", "usr-carol", nil)
	if err != nil {
		t.Fatalf("ensure other: %v", err)
	}
	send(t, alice, other, "elsewhere")
	msg := send(t, alice, conv, "hi bob")
	if err := alice.SignalTyping(ctx, types.TypingSignal{ConversationID: conv.ID, UserID: "usr-alice", DisplayName: "Alice"}); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if err := alice.ArchiveConversation(ctx, conv.ID, true); err != nil {
		t.Fatalf("archive: %v", err)
	}

	isMessage := func(ev types.Event) bool { return ev.Entity == types.EntityMessage }
	isTyping := func(ev types.Event) bool { return ev.Entity == types.EntityTyping }
	waitFor(t, "message and typing events", func() bool {
		return rec.count(isMessage) == 1 && rec.count(isTyping) == 1
	})

	got := rec.count(func(ev types.Event) bool {
		if ev.Entity != types.EntityMessage {
			return false
		}
		m, err := ev.Message()
		return err == nil && m.ID == msg.ID && m.Content() == "hi bob"
	})
	if got != 1 {
		t.Fatal("expected the sent message in the feed")
	}
	if n := rec.count(func(ev types.Event) bool { return ev.ConversationID != conv.ID }); n != 0 {
		t.Fatalf("feed leaked %d events from other conversations", n)
	}
	if n := rec.count(func(ev types.Event) bool { return ev.Entity == entityArchive }); n != 0 {
		t.Fatalf("feed leaked %d archive records", n)
	}

	rec.mu.Lock()
	first := rec.states[0]
	rec.mu.Unlock()
	if first != types.ConnConnected {
		t.Fatalf("expected connected first, got %s", first)
	}
}

func TestFeedHeartbeats(t *testing.T) {
	_, bob, conv := setupPair(t)
	rec := &recorder{}
	sub, err := bob.Subscribe(context.Background(), conv.ID, rec.handler())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	isBeat := func(ev types.Event) bool { return ev.Op == types.OpHeartbeat }
	waitFor(t, "heartbeats", func() bool { return rec.count(isBeat) >= 2 })

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	after := rec.count(isBeat)
	time.Sleep(60 * time.Millisecond)
	if rec.count(isBeat) != after {
		t.Fatal("heartbeats continued after close")
	}
}
