package threads

import (
	"testing"

	"github.com/adamavenir/murmur/internal/types"
)

func reply(id, parent string, at int64) types.Message {
	p := parent
	return types.Message{ID: id, ConversationID: "cnv-1", SenderID: "usr-a", Body: types.Text(id), CreatedAt: at, ReplyTo: &p, Status: types.StatusSent}
}

func TestReplyCountCountsEachReplyOnce(t *testing.T) {
	idx := NewIndex()
	r := reply("msg-r1", "msg-p", 10)

	if !idx.Observe(r) {
		t.Fatalf("first observe should count")
	}
	if idx.Observe(r) {
		t.Fatalf("duplicate observe must not count again")
	}
	idx.Observe(reply("msg-r2", "msg-p", 11))
	if got := idx.ReplyCount("msg-p"); got != 2 {
		t.Fatalf("expected 2 replies, got %d", got)
	}

	root := types.Message{ID: "msg-x", Body: types.Text("top level")}
	if idx.Observe(root) {
		t.Fatalf("non-reply should be ignored")
	}
}

func TestTombstoneDecrementsOnce(t *testing.T) {
	idx := NewIndex()
	r := reply("msg-r1", "msg-p", 10)
	idx.Observe(r)
	idx.Observe(reply("msg-r2", "msg-p", 11))

	r.Deleted = true
	if !idx.Tombstone(r) {
		t.Fatalf("tombstone should decrement")
	}
	if idx.Tombstone(r) {
		t.Fatalf("second tombstone must be a no-op")
	}
	if idx.Observe(r) {
		t.Fatalf("observing a tombstone again must not change the count")
	}
	if got := idx.ReplyCount("msg-p"); got != 1 {
		t.Fatalf("expected 1 reply, got %d", got)
	}
}

func TestSetCountThenLiveReplies(t *testing.T) {
	idx := NewIndex()
	idx.SetCount(types.ThreadSummary{ParentID: "msg-p", ReplyCount: 4, AsOf: 100})

	// Loading an old reply the summary already covers.
	if idx.Observe(reply("msg-old", "msg-p", 90)) {
		t.Fatalf("reply covered by the summary must not be counted twice")
	}
	if !idx.Observe(reply("msg-new", "msg-p", 120)) {
		t.Fatalf("reply after the summary should count")
	}
	if got := idx.ReplyCount("msg-p"); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}

	unseen := reply("msg-unseen", "msg-p", 50)
	unseen.Deleted = true
	idx.Tombstone(unseen)
	if got := idx.ReplyCount("msg-p"); got != 4 {
		t.Fatalf("tombstone of a summarized reply should decrement, got %d", got)
	}
}

func TestReplyDeletedBeforeSummaryIsNotSubtracted(t *testing.T) {
	idx := NewIndex()
	idx.SetCount(types.ThreadSummary{ParentID: "msg-p", ReplyCount: 1, AsOf: 100})

	gone := reply("msg-r2", "msg-p", 50)
	gone.Deleted = true
	if idx.Observe(gone) {
		t.Fatalf("a reply first seen deleted was never in the count")
	}
	if got := idx.ReplyCount("msg-p"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if idx.Tombstone(gone) {
		t.Fatalf("a later delete event for the same reply must be a no-op")
	}

	live := reply("msg-r1", "msg-p", 40)
	idx.Observe(live)
	live.Deleted = true
	if !idx.Observe(live) {
		t.Fatalf("deleting a counted reply should decrement")
	}
	if got := idx.ReplyCount("msg-p"); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestRekeyKeepsCount(t *testing.T) {
	idx := NewIndex()
	thread := idx.Open("msg-p")
	pending := reply("tmp-1", "msg-p", 10)
	pending.Status = types.StatusPending
	idx.Observe(pending)

	confirmed := reply("msg-r1", "msg-p", 12)
	idx.Rekey("tmp-1", confirmed)
	if idx.Observe(confirmed) {
		t.Fatalf("echo of a rekeyed reply must not count again")
	}
	if got := idx.ReplyCount("msg-p"); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	replies := thread.Replies()
	if len(replies) != 1 || replies[0].ID != "msg-r1" {
		t.Fatalf("thread should hold the rekeyed reply, got %+v", replies)
	}
}

func TestThreadPaging(t *testing.T) {
	idx := NewIndex()
	thread := idx.Open("msg-p")

	query, ok := thread.NextPage(2)
	if !ok || query.Before != nil || query.Limit != 2 {
		t.Fatalf("first page should fetch the newest replies: %+v ok=%v", query, ok)
	}
	if _, again := thread.NextPage(2); again {
		t.Fatalf("second request while loading should be refused")
	}
	thread.AppendPage([]types.Message{reply("msg-r3", "msg-p", 30), reply("msg-r4", "msg-p", 40)}, true)

	query, ok = thread.NextPage(2)
	if !ok || query.Before == nil || query.Before.ID != "msg-r3" {
		t.Fatalf("next page should start before the oldest reply: %+v", query)
	}
	thread.AppendPage([]types.Message{reply("msg-r1", "msg-p", 10), reply("msg-r2", "msg-p", 20)}, false)

	if thread.HasMore() {
		t.Fatalf("history should be exhausted")
	}
	if _, ok := thread.NextPage(2); ok {
		t.Fatalf("no page after exhaustion")
	}
	got := thread.Replies()
	want := []string{"msg-r1", "msg-r2", "msg-r3", "msg-r4"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("reply %d: want %s got %s", i, id, got[i].ID)
		}
	}
}

func TestOpenThreadIsIndependent(t *testing.T) {
	idx := NewIndex()
	a := idx.Open("msg-a")
	b := idx.Open("msg-b")
	idx.Observe(reply("msg-r1", "msg-a", 1))
	if a.Len() != 1 || b.Len() != 0 {
		t.Fatalf("reply landed in the wrong thread: a=%d b=%d", a.Len(), b.Len())
	}
	if idx.Open("msg-a") != a {
		t.Fatalf("open should be idempotent")
	}
	idx.Close("msg-a")
	if _, ok := idx.Thread("msg-a"); ok {
		t.Fatalf("closed thread still open")
	}
	if idx.ReplyCount("msg-a") != 1 {
		t.Fatalf("closing keeps counts")
	}
}
