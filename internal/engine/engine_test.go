package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adamavenir/murmur/internal/search"
	"github.com/adamavenir/murmur/internal/types"
)

func newTestClient(t *testing.T, svc *fakeService, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		SelfID:        "usr-a",
		DisplayName:   "Ann",
		Store:         svc,
		Channel:       svc,
		SendRetries:   2,
		RetryBase:     time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func openView(t *testing.T, c *Client, conv string) *View {
	t.Helper()
	v, err := c.Open(conv)
	if err != nil {
		t.Fatalf("open %s: %v", conv, err)
	}
	return v
}

func eventually(t *testing.T, what string, cond func() bool) {
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

// idle waits until the subscription is attached and no tail sync is running.
func idle(t *testing.T, v *View) {
	t.Helper()
	eventually(t, "sync to finish", func() bool {
		var busy bool
		_ = v.c.call(func() error {
			busy = v.sub == nil || v.syncing
			return nil
		})
		return !busy
	})
}

func allSent(msgs []types.Message) bool {
	for _, msg := range msgs {
		if msg.Status != types.StatusSent {
			return false
		}
	}
	return true
}

func texts(msgs []types.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, msg.Content())
	}
	return strings.Join(parts, ",")
}

func TestSendOrderSurvivesOutOfOrderCompletion(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")

	svc.sendGate = make(chan struct{})
	for _, text := range []string{"one", "two", "three"} {
		if _, err := v.Send(text); err != nil {
			t.Fatalf("send %s: %v", text, err)
		}
	}
	if got := texts(v.Messages()); got != "one,two,three" {
		t.Fatalf("optimistic order = %s", got)
	}
	// Each release hands the gate to whichever send is waiting, so the
	// service sees them in no particular order.
	for range 3 {
		svc.sendGate <- struct{}{}
	}

	eventually(t, "all sent", func() bool { return allSent(v.Messages()) && len(v.Messages()) == 3 })
	if got := texts(v.Messages()); got != "one,two,three" {
		t.Fatalf("order after resolve = %s", got)
	}
}

func TestOfflineSendRetryThenReaction(t *testing.T) {
	svc := newFakeService()
	var offline atomic.Bool
	offline.Store(true)
	svc.sendHook = func(msg types.Message) error {
		if offline.Load() {
			return &types.TransientNetworkError{Op: "send", Err: errors.New("no route to host")}
		}
		return nil
	}
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")

	t1, err := v.Send("Hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if t1.Status != types.StatusPending || !strings.HasPrefix(t1.ID, "tmp-") {
		t.Fatalf("expected pending temp record, got %+v", t1)
	}
	eventually(t, "send to fail", func() bool {
		msg, _ := v.Message(t1.ID)
		return msg.Status == types.StatusFailed
	})
	if got := svc.sendCount(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if !types.IsTransient(v.Err(t1.ID)) {
		t.Fatalf("failure cause lost: %v", v.Err(t1.ID))
	}

	offline.Store(false)
	if _, err := v.Retry(t1.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	eventually(t, "send to resolve", func() bool {
		msg, ok := v.Message("msg-1")
		return ok && msg.Status == types.StatusSent
	})
	msgs := v.Messages()
	if len(msgs) != 1 || msgs[0].ID != "msg-1" || msgs[0].Content() != "Hi" {
		t.Fatalf("temp record not replaced in place: %+v", msgs)
	}

	idle(t, v)
	ev, err := types.NewEvent(types.OpInsert, types.EntityReaction, "cnv-1",
		types.ReactionEntry{MessageID: "msg-1", Emoji: "👍", UserID: "usr-b"}, 0)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	svc.handler("cnv-1").OnEvent(ev)
	eventually(t, "reaction", func() bool { return len(v.Reactions("msg-1")) == 1 })
	agg := v.Reactions("msg-1")[0]
	if agg.Emoji != "👍" || agg.Count != 1 || len(agg.Users) != 1 || agg.Users[0] != "usr-b" || agg.HasCurrentUserReacted {
		t.Fatalf("unexpected aggregate %+v", agg)
	}
}

func TestEchoBeforeResponseIsNotDuplicated(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")
	eventually(t, "subscription", func() bool { return svc.handler("cnv-1") != nil })
	idle(t, v)

	svc.sendGate = make(chan struct{})
	t1, err := v.Send("hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	echo := types.Message{ID: "msg-9", ClientID: t1.ClientID, ConversationID: "cnv-1", SenderID: "usr-a", Body: types.Text("hello"), CreatedAt: 2_000}
	ev, err := types.NewEvent(types.OpInsert, types.EntityMessage, "cnv-1", echo, 0)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	svc.handler("cnv-1").OnEvent(ev)
	eventually(t, "echo to resolve", func() bool {
		msg, ok := v.Message("msg-9")
		return ok && msg.Status == types.StatusSent
	})
	close(svc.sendGate)
	eventually(t, "persist to finish", func() bool { return svc.sendCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := len(v.Messages()); n != 1 {
		t.Fatalf("expected one record, got %d: %+v", n, v.Messages())
	}
}

func TestReconnectReconcilesWithService(t *testing.T) {
	svc := newFakeService()
	m1 := svc.seed("cnv-1", "usr-b", "one")
	m2 := svc.seed("cnv-1", "usr-b", "two")
	svc.seed("cnv-1", "usr-b", "three")
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")
	eventually(t, "initial sync", func() bool { return len(v.Messages()) == 3 })
	idle(t, v)

	h := svc.handler("cnv-1")
	h.OnStatus(types.ConnDisconnected, errors.New("socket closed"))
	eventually(t, "disconnect", func() bool { return v.Connection() == types.ConnDisconnected })

	svc.drop("cnv-1", m2.ID)
	svc.seed("cnv-1", "usr-b", "four")
	svc.seed("cnv-1", "usr-b", "five")

	h.OnStatus(types.ConnConnected, nil)
	eventually(t, "reconcile", func() bool { return texts(v.Messages()) == "one,three,four,five" })
	if v.Connection() != types.ConnConnected {
		t.Fatalf("expected connected, got %s", v.Connection())
	}
	if v.HasMore() {
		t.Fatalf("complete tail leaves no older history")
	}
	if got := v.Messages()[0].ID; got != m1.ID {
		t.Fatalf("oldest record changed: %s", got)
	}
}

func TestLiveEventBeforeTailSyncKeepsServerOrder(t *testing.T) {
	svc := newFakeService()
	svc.seed("cnv-1", "usr-b", "one")
	svc.seed("cnv-1", "usr-b", "two")
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")
	eventually(t, "initial sync", func() bool { return len(v.Messages()) == 2 })
	idle(t, v)

	h := svc.handler("cnv-1")
	h.OnStatus(types.ConnDisconnected, errors.New("socket closed"))
	eventually(t, "disconnect", func() bool { return v.Connection() == types.ConnDisconnected })

	svc.seed("cnv-1", "usr-b", "missed")
	live := svc.seed("cnv-1", "usr-b", "live")
	ev, err := types.NewEvent(types.OpInsert, types.EntityMessage, "cnv-1", live, 0)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	// The event revives the subscription and lands before the tail fetch.
	h.OnEvent(ev)
	eventually(t, "reconcile", func() bool { return len(v.Messages()) == 4 })
	idle(t, v)
	if got := texts(v.Messages()); got != "one,two,missed,live" {
		t.Fatalf("order after reconnect: %s", got)
	}
	if v.Connection() != types.ConnConnected {
		t.Fatalf("expected connected, got %s", v.Connection())
	}
}

func TestToggleReactionGuardsDoubleClick(t *testing.T) {
	svc := newFakeService()
	svc.seed("cnv-1", "usr-b", "hello")
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")
	eventually(t, "initial sync", func() bool { return len(v.Messages()) == 1 })
	idle(t, v)

	svc.reactGate = make(chan struct{})
	if err := v.ToggleReaction("msg-1", "🔥"); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := v.ToggleReaction("msg-1", "🔥"); !errors.Is(err, types.ErrToggleInFlight) {
		t.Fatalf("expected in-flight guard, got %v", err)
	}
	aggs := v.Reactions("msg-1")
	if len(aggs) != 1 || !aggs[0].HasCurrentUserReacted {
		t.Fatalf("optimistic reaction missing: %+v", aggs)
	}
	svc.reactGate <- struct{}{}

	eventually(t, "toggle to settle", func() bool { return v.ToggleReaction("msg-1", "🔥") == nil })
	svc.reactGate <- struct{}{}
	eventually(t, "reaction removed", func() bool { return len(v.Reactions("msg-1")) == 0 })
}

func TestReactionOnPendingMessageRejected(t *testing.T) {
	svc := newFakeService()
	svc.sendGate = make(chan struct{})
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")

	t1, err := v.Send("soon")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var verr *types.ValidationError
	if err := v.ToggleReaction(t1.ID, "👍"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	close(svc.sendGate)
}

func TestValidationRejectsBeforeNetwork(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")

	var verr *types.ValidationError
	if _, err := v.Send("   "); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(v.Messages()) != 0 {
		t.Fatalf("blank message must not be appended")
	}
	if svc.sendCount() != 0 {
		t.Fatalf("service was called")
	}
}

func TestMediaFailureStillSendsCaption(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc, func(o *Options) { o.Files = failingFiles{} })
	v := openView(t, c, "cnv-1")

	msg, err := v.SendMedia(context.Background(), Attachment{
		Name:    "cat.png",
		Kind:    types.KindImage,
		Reader:  strings.NewReader("png"),
		Caption: "look at this",
	})
	var uerr *types.MediaUploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected media upload error, got %v", err)
	}
	if msg.Kind() != types.KindText || msg.Content() != "look at this" {
		t.Fatalf("caption not sent as text: %+v", msg)
	}
	eventually(t, "caption delivered", func() bool { return svc.sendCount() == 1 })
}

func TestCloseWaitsForAsyncWorkStartedConcurrently(t *testing.T) {
	c := newTestClient(t, newFakeService(), nil)

	var started, finished atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.goAsync(func() {
					started.Add(1)
					time.Sleep(time.Millisecond)
					finished.Add(1)
				})
			}
		}()
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)
	if started.Load() != finished.Load() {
		t.Fatalf("work ran past close: started %d finished %d", started.Load(), finished.Load())
	}

	var late atomic.Bool
	c.goAsync(func() { late.Store(true) })
	time.Sleep(20 * time.Millisecond)
	if late.Load() {
		t.Fatalf("work queued after close should be dropped")
	}
}

func TestCloseDoesNotCancelInFlightSend(t *testing.T) {
	svc := newFakeService()
	svc.sendGate = make(chan struct{})
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")

	t1, err := v.Send("bye")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("close view: %v", err)
	}
	close(svc.sendGate)
	eventually(t, "send to land", func() bool { return svc.sendCount() == 1 })

	again := openView(t, c, "cnv-1")
	eventually(t, "record resolved", func() bool {
		msg, ok := again.Message(t1.ID)
		return ok && msg.Status == types.StatusSent
	})
	if n := len(again.Messages()); n != 1 {
		t.Fatalf("expected 1 message after reopen, got %d", n)
	}
}

func TestEditWhilePendingPersistsAfterSend(t *testing.T) {
	svc := newFakeService()
	svc.sendGate = make(chan struct{})
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")

	t1, err := v.Send("draft")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := v.Edit(t1.ID, "final"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if msg, _ := v.Message(t1.ID); msg.Content() != "final" {
		t.Fatalf("edit not applied locally: %+v", msg)
	}
	close(svc.sendGate)
	eventually(t, "edit persisted", func() bool {
		msg, ok := svc.find("msg-1")
		return ok && msg.Content() == "final"
	})
	eventually(t, "local record settled", func() bool {
		msg, ok := v.Message("msg-1")
		return ok && msg.Content() == "final" && msg.EditedAt != nil
	})
}

func TestDeleteOthersMessageRejected(t *testing.T) {
	svc := newFakeService()
	svc.seed("cnv-1", "usr-b", "theirs")
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")
	eventually(t, "initial sync", func() bool { return len(v.Messages()) == 1 })

	var perr *types.PermissionError
	if err := v.Delete("msg-1"); !errors.As(err, &perr) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestSessionExpiryReachesHandler(t *testing.T) {
	svc := newFakeService()
	svc.sendHook = func(types.Message) error { return types.ErrSessionExpired }
	expired := make(chan error, 1)
	c := newTestClient(t, svc, func(o *Options) {
		o.OnSessionExpired = func(err error) { expired <- err }
	})
	v := openView(t, c, "cnv-1")

	t1, err := v.Send("hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case err := <-expired:
		if !errors.Is(err, types.ErrSessionExpired) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("session handler not called")
	}
	eventually(t, "send to fail", func() bool {
		msg, _ := v.Message(t1.ID)
		return msg.Status == types.StatusFailed
	})
	if svc.sendCount() != 1 {
		t.Fatalf("session expiry must not be retried, got %d attempts", svc.sendCount())
	}
}

func TestChangesCoalescePerConversation(t *testing.T) {
	svc := newFakeService()
	svc.sendGate = make(chan struct{})
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")
	c.Drain()

	for _, text := range []string{"a", "b", "c"} {
		if _, err := v.Send(text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	select {
	case <-c.Changes():
	case <-time.After(time.Second):
		t.Fatalf("no change signal")
	}
	changes := c.Drain()
	if len(changes) != 1 || changes[0].ConversationID != "cnv-1" || !changes[0].What.Has(ChangedMessages) {
		t.Fatalf("unexpected changes %+v", changes)
	}
	close(svc.sendGate)
}

func TestTypingIndicatorExpires(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc, func(o *Options) { o.TypingTTL = 50 * time.Millisecond })
	v := openView(t, c, "cnv-1")
	eventually(t, "subscription", func() bool { return svc.handler("cnv-1") != nil })

	ev, err := types.NewEvent(types.OpInsert, types.EntityTyping, "cnv-1",
		types.TypingSignal{ConversationID: "cnv-1", UserID: "usr-b", DisplayName: "Bo"}, 0)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	svc.handler("cnv-1").OnEvent(ev)
	eventually(t, "typing shown", func() bool { return len(v.TypingUsers()) == 1 })
	eventually(t, "typing expired", func() bool { return len(v.TypingUsers()) == 0 })
}

func TestSearchOverLoadedMessages(t *testing.T) {
	svc := newFakeService()
	svc.seed("cnv-1", "usr-b", "lunch at noon?")
	svc.seed("cnv-1", "usr-a", "sure, lunch works")
	svc.seed("cnv-1", "usr-b", "great")
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")
	eventually(t, "initial sync", func() bool { return len(v.Messages()) == 3 })

	got, err := v.Search(search.Filter{Text: "LUNCH"}, search.Options{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}

	done := make(chan []types.Message, 1)
	v.SearchDebounced(search.Filter{SenderID: "usr-a"}, search.Options{}, func([]types.Message, error) {
		t.Errorf("superseded search ran")
	})
	v.SearchDebounced(search.Filter{SenderID: "usr-b"}, search.Options{}, func(msgs []types.Message, err error) {
		done <- msgs
	})
	select {
	case msgs := <-done:
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages from usr-b, got %d", len(msgs))
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("debounced search never ran")
	}
}

func TestRepliesFlattenAndCount(t *testing.T) {
	svc := newFakeService()
	c := newTestClient(t, svc, nil)
	v := openView(t, c, "cnv-1")
	idle(t, v)

	parent, err := v.Send("question")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := v.Reply(parent.ID, "too early"); err == nil {
		t.Fatal("expected reply to a pending parent to be rejected")
	}
	eventually(t, "parent sent", func() bool { return allSent(v.Messages()) })
	sent, _ := v.Message(parent.ID)

	first, err := v.Reply(sent.ID, "answer")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	eventually(t, "reply sent", func() bool { return allSent(v.Messages()) })
	first, _ = v.Message(first.ID)

	nested, err := v.Reply(first.ID, "follow-up")
	if err != nil {
		t.Fatalf("nested reply: %v", err)
	}
	if nested.ReplyTo == nil || *nested.ReplyTo != sent.ID {
		t.Fatalf("nested reply should point at the root, got %v", nested.ReplyTo)
	}
	eventually(t, "replies counted", func() bool {
		return allSent(v.Messages()) && v.ReplyCount(sent.ID) == 2
	})

	n, err := v.OpenThread(context.Background(), sent.ID)
	if err != nil {
		t.Fatalf("open thread: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 loaded replies, got %d", n)
	}
	if got := texts(v.ThreadReplies(sent.ID)); got != "answer,follow-up" {
		t.Fatalf("thread replies = %s", got)
	}
	v.CloseThread(sent.ID)
}
