package threads

import (
	"sort"

	"github.com/adamavenir/murmur/internal/types"
)

// DefaultPageSize is the reply page size used when none is given.
const DefaultPageSize = 30

// Thread is a lazily loaded reply list, oldest first.
type Thread struct {
	ParentID string

	replies []types.Message
	ids     map[string]int
	hasMore bool
	loading bool
	loaded  bool
}

func newThread(parentID string) *Thread {
	return &Thread{ParentID: parentID, ids: make(map[string]int), hasMore: true}
}

// HasMore reports whether older replies may remain on the service.
func (t *Thread) HasMore() bool { return t.hasMore }

// Loading reports whether a page request is outstanding.
func (t *Thread) Loading() bool { return t.loading }

// Len returns the number of loaded replies.
func (t *Thread) Len() int { return len(t.replies) }

// Replies returns a copy of the loaded replies.
func (t *Thread) Replies() []types.Message {
	out := make([]types.Message, len(t.replies))
	copy(out, t.replies)
	return out
}

// NextPage returns the query for the next older page and marks the thread as
// loading. It reports false when a page is outstanding or history is exhausted.
func (t *Thread) NextPage(limit int) (types.MessageQuery, bool) {
	if t.loading || !t.hasMore {
		return types.MessageQuery{}, false
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	query := types.MessageQuery{Limit: limit, IncludeDeleted: true}
	if t.loaded {
		if oldest, ok := t.oldestConfirmed(); ok {
			query.Before = &types.MessageCursor{ID: oldest.ID, CreatedAt: oldest.CreatedAt}
		}
	}
	t.loading = true
	return query, true
}

// AppendPage merges a fetched page of older replies.
func (t *Thread) AppendPage(page []types.Message, hasMore bool) {
	t.loading = false
	t.loaded = true
	t.hasMore = hasMore
	for _, msg := range page {
		t.upsert(msg)
	}
}

// FailPage clears the loading flag after a failed fetch.
func (t *Thread) FailPage() {
	t.loading = false
}

func (t *Thread) oldestConfirmed() (types.Message, bool) {
	for _, msg := range t.replies {
		if msg.Status != types.StatusPending && msg.Status != types.StatusFailed {
			return msg, true
		}
	}
	return types.Message{}, false
}

func (t *Thread) upsert(msg types.Message) {
	if i, ok := t.ids[msg.ID]; ok {
		t.replies[i] = msg
		return
	}
	t.replies = append(t.replies, msg)
	sort.SliceStable(t.replies, func(i, j int) bool {
		a, b := t.replies[i], t.replies[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	t.reindex()
}

func (t *Thread) rekey(tempID string, msg types.Message) {
	i, ok := t.ids[tempID]
	if !ok {
		t.upsert(msg)
		return
	}
	if j, dup := t.ids[msg.ID]; dup && j != i {
		t.remove(tempID)
		t.replies[t.ids[msg.ID]] = msg
		return
	}
	delete(t.ids, tempID)
	t.replies[i] = msg
	t.ids[msg.ID] = i
}

func (t *Thread) remove(id string) {
	i, ok := t.ids[id]
	if !ok {
		return
	}
	t.replies = append(t.replies[:i], t.replies[i+1:]...)
	t.reindex()
}

func (t *Thread) reindex() {
	clear(t.ids)
	for i, msg := range t.replies {
		t.ids[msg.ID] = i
	}
}
