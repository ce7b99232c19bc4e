package realtime

import (
	"github.com/adamavenir/murmur/internal/messages"
	"github.com/adamavenir/murmur/internal/types"
)

// DefaultTailSize is the page size of reconnect fetches.
const DefaultTailSize = 50

// TailSync pages backwards through recent history until the fetched tail
// overlaps local confirmed state or history is exhausted.
type TailSync struct {
	ConversationID string

	limit     int
	fetchedAt int64
	pages     []types.Message
	complete  bool
}

// NewTailSync starts a tail fetch. fetchedAt is the time the fetch began.
func NewTailSync(conversationID string, limit int, fetchedAt int64) *TailSync {
	if limit <= 0 {
		limit = DefaultTailSize
	}
	return &TailSync{ConversationID: conversationID, limit: limit, fetchedAt: fetchedAt}
}

// Query returns the next page to fetch.
func (t *TailSync) Query() types.MessageQuery {
	q := types.MessageQuery{Limit: t.limit, IncludeDeleted: true}
	if len(t.pages) > 0 {
		oldest := t.pages[0]
		q.Before = &types.MessageCursor{ID: oldest.ID, CreatedAt: oldest.CreatedAt}
	}
	return q
}

// Add records a fetched page (oldest first) and reports whether the tail is
// complete enough to reconcile.
func (t *TailSync) Add(store *messages.Store, page []types.Message, hasMore bool) bool {
	t.pages = append(append([]types.Message(nil), page...), t.pages...)
	if !hasMore || len(page) == 0 {
		t.complete = true
		return true
	}
	return store.Overlaps(page)
}

// Window returns the accumulated authoritative window.
func (t *TailSync) Window() messages.Window {
	return messages.Window{Messages: t.pages, Complete: t.complete, FetchedAt: t.fetchedAt}
}

// Stamp records the service time of the first page as the window's upper
// bound, unless one was given up front.
func (t *TailSync) Stamp(at int64) {
	if t.fetchedAt == 0 {
		t.fetchedAt = at
	}
}
