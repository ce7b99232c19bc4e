package wsfeed

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
)

// upstream is an in-memory service.Channel the server relays.
type upstream struct {
	mu       sync.Mutex
	next     int
	handlers map[string]map[int]service.Handler
}

type upstreamSub struct {
	u    *upstream
	conv string
	id   int
}

func (s upstreamSub) Close() error {
	s.u.mu.Lock()
	defer s.u.mu.Unlock()
	delete(s.u.handlers[s.conv], s.id)
	return nil
}

func (u *upstream) Subscribe(ctx context.Context, conv string, h service.Handler) (service.Subscription, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.handlers == nil {
		u.handlers = make(map[string]map[int]service.Handler)
	}
	if u.handlers[conv] == nil {
		u.handlers[conv] = make(map[int]service.Handler)
	}
	u.next++
	u.handlers[conv][u.next] = h
	return upstreamSub{u: u, conv: conv, id: u.next}, nil
}

func (u *upstream) subscribers(conv string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.handlers[conv])
}

func (u *upstream) each(conv string, fn func(service.Handler)) {
	u.mu.Lock()
	list := make([]service.Handler, 0, len(u.handlers[conv]))
	for _, h := range u.handlers[conv] {
		list = append(list, h)
	}
	u.mu.Unlock()
	for _, h := range list {
		fn(h)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []types.Event
	states []types.ConnectionState
}

func (r *recorder) OnEvent(ev types.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) OnStatus(state types.ConnectionState, err error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recorder) count(op types.EventOp) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Op == op {
			n++
		}
	}
	return n
}

func (r *recorder) stateCount(state types.ConnectionState) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
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

func TestFeedRelaysConversationEvents(t *testing.T) {
	up := &upstream{}
	srv := httptest.NewServer(NewServer(up))
	defer srv.Close()

	rec := &recorder{}
	feed := &Feed{URL: srv.URL, RetryBase: 10 * time.Millisecond}
	sub, err := feed.Subscribe(context.Background(), "cnv-1", rec)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	waitFor(t, "upstream subscriber", func() bool { return up.subscribers("cnv-1") == 1 })
	ev, err := types.NewEvent(types.OpInsert, types.EntityTyping, "cnv-1", types.TypingSignal{ConversationID: "cnv-1", UserID: "usr-b"}, 10)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	up.each("cnv-1", func(h service.Handler) { h.OnEvent(ev) })

	waitFor(t, "relayed event", func() bool { return rec.count(types.OpInsert) == 1 })
	rec.mu.Lock()
	got := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	sig, err := got.Typing()
	if err != nil || sig.UserID != "usr-b" {
		t.Fatalf("unexpected event: %+v (%v)", got, err)
	}
	if rec.stateCount(types.ConnConnected) != 1 {
		t.Fatalf("expected one connect, got %v", rec.states)
	}
}

func TestFeedPongsCountAsHeartbeats(t *testing.T) {
	up := &upstream{}
	srv := httptest.NewServer(NewServer(up))
	defer srv.Close()

	rec := &recorder{}
	feed := &Feed{URL: srv.URL, PingPeriod: 10 * time.Millisecond, PongWait: time.Second}
	sub, err := feed.Subscribe(context.Background(), "cnv-1", rec)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	waitFor(t, "heartbeats", func() bool { return rec.count(types.OpHeartbeat) >= 2 })
}

func TestFeedReconnectsAfterUpstreamGap(t *testing.T) {
	up := &upstream{}
	srv := httptest.NewServer(NewServer(up))
	defer srv.Close()

	rec := &recorder{}
	feed := &Feed{URL: srv.URL, RetryBase: 10 * time.Millisecond}
	sub, err := feed.Subscribe(context.Background(), "cnv-1", rec)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	waitFor(t, "upstream subscriber", func() bool { return up.subscribers("cnv-1") == 1 })
	up.each("cnv-1", func(h service.Handler) { h.OnStatus(types.ConnDisconnected, nil) })

	waitFor(t, "reconnect", func() bool {
		return rec.stateCount(types.ConnDisconnected) >= 1 && rec.stateCount(types.ConnConnected) >= 2
	})

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, "upstream released", func() bool { return up.subscribers("cnv-1") == 0 })
}

func TestEndpointRewritesScheme(t *testing.T) {
	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"http://localhost:7420/feed", "ws://localhost:7420/feed?conversation=cnv-1", true},
		{"https://chat.example/feed", "wss://chat.example/feed?conversation=cnv-1", true},
		{"ws://localhost/feed", "ws://localhost/feed?conversation=cnv-1", true},
		{"ftp://localhost/feed", "", false},
	}
	for _, tt := range tests {
		got, err := (&Feed{URL: tt.url}).endpoint("cnv-1")
		if (err == nil) != tt.ok {
			t.Fatalf("%s: unexpected error %v", tt.url, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %s, want %s", tt.url, got, tt.want)
		}
	}
}
