package conversations

import (
	"errors"
	"testing"
	"time"

	"github.com/adamavenir/murmur/internal/types"
)

func newTestStore() *Store {
	return New("usr-a", func() time.Time { return time.UnixMilli(1_000) })
}

func conversation(id, peer string, last int64) types.Conversation {
	return types.Conversation{ID: id, Participants: [2]string{"usr-a", peer}, LastMessageAt: last}
}

func TestOrderedByActivity(t *testing.T) {
	store := newTestStore()
	store.Upsert(conversation("cnv-1", "usr-b", 10))
	store.Upsert(conversation("cnv-2", "usr-c", 30))
	store.Upsert(conversation("cnv-3", "usr-d", 20))
	store.Archive("cnv-3", true)
	store.Upsert(conversation("cnv-4", "usr-e", 40))
	store.Tombstone("cnv-4")

	got := store.Ordered(false)
	if len(got) != 2 || got[0].ID != "cnv-2" || got[1].ID != "cnv-1" {
		t.Fatalf("unexpected order %+v", got)
	}
	if all := store.Ordered(true); len(all) != 3 || all[1].ID != "cnv-3" {
		t.Fatalf("archived should be included on request: %+v", all)
	}
}

func TestOnMessageCountsUnreadUnlessViewing(t *testing.T) {
	store := newTestStore()
	store.Upsert(conversation("cnv-1", "usr-b", 10))

	store.OnMessage(types.Message{ConversationID: "cnv-1", SenderID: "usr-b", CreatedAt: 20})
	store.OnMessage(types.Message{ConversationID: "cnv-1", SenderID: "usr-a", CreatedAt: 30})
	c, _ := store.Get("cnv-1")
	if c.UnreadCount != 1 || c.LastMessageAt != 30 {
		t.Fatalf("unexpected conversation %+v", c)
	}

	store.SetViewing("cnv-1", true)
	store.OnMessage(types.Message{ConversationID: "cnv-1", SenderID: "usr-b", CreatedAt: 40})
	if c, _ := store.Get("cnv-1"); c.UnreadCount != 1 {
		t.Fatalf("viewed conversation must not accumulate unread, got %d", c.UnreadCount)
	}
	store.MarkRead("cnv-1")
	if store.TotalUnread() != 0 {
		t.Fatalf("mark read should clear unread")
	}
}

func TestUpsertKeepsTombstoneAndActivity(t *testing.T) {
	store := newTestStore()
	store.Upsert(conversation("cnv-1", "usr-b", 50))
	store.Tombstone("cnv-1")

	stale := conversation("cnv-1", "usr-b", 10)
	store.Upsert(stale)
	c, _ := store.Get("cnv-1")
	if !c.Tombstoned || c.LastMessageAt != 50 {
		t.Fatalf("upsert must not lift tombstone or rewind activity: %+v", c)
	}
	var conflict *types.ConflictError
	if err := store.Archive("cnv-1", true); !errors.As(err, &conflict) {
		t.Fatalf("archiving a tombstoned conversation should conflict, got %v", err)
	}
}

func TestFindByPairAndMessages(t *testing.T) {
	store := newTestStore()
	store.Upsert(types.Conversation{ID: "cnv-1", Participants: [2]string{"usr-b", "usr-a"}})
	if c, ok := store.Find("usr-a", "usr-b"); !ok || c.ID != "cnv-1" {
		t.Fatalf("pair lookup should ignore order")
	}
	log := store.Messages("cnv-1")
	if store.Messages("cnv-1") != log || log.ConversationID() != "cnv-1" {
		t.Fatalf("message store should be created once per conversation")
	}
	if _, ok := store.Get("cnv-x"); ok {
		t.Fatalf("unknown conversation found")
	}
}
