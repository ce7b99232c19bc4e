// Package threads maintains reply counts and lazily paged reply lists.
package threads

import (
	"github.com/adamavenir/murmur/internal/types"
)

// Index is a derived index of replies keyed by parent message id.
// Not safe for concurrent use; the engine loop owns it.
type Index struct {
	counts  map[string]int
	asOf    map[string]int64
	seen    map[string]string // reply id -> parent id
	dropped map[string]struct{}
	open    map[string]*Thread
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		counts:  make(map[string]int),
		asOf:    make(map[string]int64),
		seen:    make(map[string]string),
		dropped: make(map[string]struct{}),
		open:    make(map[string]*Thread),
	}
}

// ReplyCount returns the number of live replies to parentID.
func (x *Index) ReplyCount(parentID string) int {
	return x.counts[parentID]
}

// SetCount installs a server summary. Replies created at or before AsOf are
// treated as already included in the count.
func (x *Index) SetCount(summary types.ThreadSummary) {
	n := summary.ReplyCount
	if n < 0 {
		n = 0
	}
	x.counts[summary.ParentID] = n
	if summary.AsOf > x.asOf[summary.ParentID] {
		x.asOf[summary.ParentID] = summary.AsOf
	}
}

// Observe records a reply. Each reply id is counted at most once; it reports
// whether the count changed. Non-replies are ignored.
func (x *Index) Observe(msg types.Message) bool {
	if !msg.IsReply() {
		return false
	}
	parent := *msg.ReplyTo
	if t := x.open[parent]; t != nil {
		t.upsert(msg)
	}
	_, known := x.seen[msg.ID]
	if msg.Deleted {
		if !known {
			// Deleted before we ever saw it live: no count includes it.
			x.dropped[msg.ID] = struct{}{}
			return false
		}
		return x.Tombstone(msg)
	}
	if known {
		return false
	}
	x.seen[msg.ID] = parent
	if msg.CreatedAt <= x.asOf[parent] {
		return false
	}
	x.counts[parent]++
	return true
}

// Tombstone decrements the parent's count for a reply deleted after it was
// counted, once per reply. A reply never seen live is counted only when the
// server summary covers it.
func (x *Index) Tombstone(msg types.Message) bool {
	if !msg.IsReply() {
		return false
	}
	if _, ok := x.dropped[msg.ID]; ok {
		return false
	}
	parent := *msg.ReplyTo
	x.dropped[msg.ID] = struct{}{}
	if t := x.open[parent]; t != nil {
		msg.Deleted = true
		t.upsert(msg)
	}
	_, counted := x.seen[msg.ID]
	if !counted && msg.CreatedAt > x.asOf[parent] {
		// Never counted, nothing to take back.
		return false
	}
	if x.counts[parent] == 0 {
		return false
	}
	x.counts[parent]--
	return true
}

// Forget drops a reply that never reached the service.
func (x *Index) Forget(msg types.Message) bool {
	if !msg.IsReply() {
		return false
	}
	parent, ok := x.seen[msg.ID]
	if !ok {
		return false
	}
	delete(x.seen, msg.ID)
	if t := x.open[parent]; t != nil {
		t.remove(msg.ID)
	}
	if x.counts[parent] > 0 {
		x.counts[parent]--
	}
	return true
}

// Rekey moves a reply from its temp id to its server id.
func (x *Index) Rekey(tempID string, msg types.Message) {
	parent, ok := x.seen[tempID]
	if !ok {
		return
	}
	delete(x.seen, tempID)
	x.seen[msg.ID] = parent
	if t := x.open[parent]; t != nil {
		t.rekey(tempID, msg)
	}
}

// Open returns the reply list for parentID, creating it on first use. The
// list is independent of the parent conversation's message window.
func (x *Index) Open(parentID string) *Thread {
	if t := x.open[parentID]; t != nil {
		return t
	}
	t := newThread(parentID)
	x.open[parentID] = t
	return t
}

// Thread returns an open reply list.
func (x *Index) Thread(parentID string) (*Thread, bool) {
	t, ok := x.open[parentID]
	return t, ok
}

// Close releases the reply list for parentID. Counts are kept.
func (x *Index) Close(parentID string) {
	delete(x.open, parentID)
}
