package messages

import (
	"sort"

	"github.com/adamavenir/murmur/internal/types"
)

// merge folds a remote version of a record into its slot. Content changes
// are last-write-wins on the service's edit timestamp; a delete always wins.
func (s *Store) merge(sl *slot, in types.Message) Change {
	cur := &sl.msg
	kind := ChangeNone

	if in.EditedAt != nil && *in.EditedAt >= sl.confirmedEdit && !sameBody(sl, in) {
		edited := *in.EditedAt
		sl.confirmedEdit = edited
		sl.serverBody = in.Body
		sl.serverEdited = &edited
		if !cur.Deleted && sl.pendingEdits == 0 {
			cur.Body = in.Body
			cur.EditedAt = &edited
			cur.Sealed = in.Sealed
			kind = ChangeUpdated
		}
	}
	if in.ReadAt != nil && (cur.ReadAt == nil || *cur.ReadAt != *in.ReadAt) {
		readAt := *in.ReadAt
		cur.ReadAt = &readAt
		kind = ChangeUpdated
	}
	if in.Deleted {
		sl.pendingDelete = false
		if !cur.Deleted {
			sl.pendingEdits = 0
			tombstone(cur)
			sl.serverBody = cur.Body
			kind = ChangeTombstoned
		}
	}
	return Change{Kind: kind, Message: *cur}
}

func sameBody(sl *slot, in types.Message) bool {
	if in.Body != sl.serverBody {
		return false
	}
	if sl.serverEdited == nil {
		return false
	}
	return *sl.serverEdited == *in.EditedAt
}

// ApplyInsert merges a pushed insert. An insert carrying the correlation key
// of a local pending or failed record resolves that record in place; an id
// already present is merged; anything else is appended.
func (s *Store) ApplyInsert(msg types.Message) Change {
	if msg.ConversationID != "" && msg.ConversationID != s.conversationID {
		return Change{}
	}
	if sl := s.lookup(msg.ID); sl != nil {
		return s.merge(sl, msg)
	}
	if msg.ClientID != "" {
		if sl := s.lookup(msg.ClientID); sl != nil {
			if sl.msg.Status != types.StatusSent {
				return s.resolve(sl, msg)
			}
			return s.merge(sl, msg)
		}
	}
	msg.Status = types.StatusSent
	sl := s.appendSlot(msg)
	return Change{Kind: ChangeInserted, Message: sl.msg}
}

// ApplyUpdate merges a pushed update. Updates for records newer than the
// oldest loaded one are treated as missed inserts and placed in server
// order; older ones are ignored.
func (s *Store) ApplyUpdate(msg types.Message) Change {
	if msg.ConversationID != "" && msg.ConversationID != s.conversationID {
		return Change{}
	}
	sl := s.lookupMessage(msg)
	if sl == nil {
		oldest, ok := s.OldestCursor()
		if ok && oldest.Before(msg) {
			return Change{}
		}
		msg.Status = types.StatusSent
		placed := s.placeSlot(msg)
		return Change{Kind: ChangeInserted, Message: placed.msg}
	}
	if sl.msg.Status != types.StatusSent && msg.ClientID != "" && msg.ClientID == sl.msg.ClientID {
		return s.resolve(sl, msg)
	}
	return s.merge(sl, msg)
}

// ApplyDelete tombstones a record, keeping its slot.
func (s *Store) ApplyDelete(msg types.Message) Change {
	sl := s.lookupMessage(msg)
	if sl == nil {
		return Change{}
	}
	sl.pendingDelete = false
	if sl.msg.Deleted {
		return Change{Message: sl.msg}
	}
	sl.pendingEdits = 0
	tombstone(&sl.msg)
	sl.serverBody = sl.msg.Body
	return Change{Kind: ChangeTombstoned, Message: sl.msg}
}

// Prepend inserts a page of older history below the current minimum sequence
// number and returns the records actually inserted, oldest first.
func (s *Store) Prepend(history []types.Message, hasMore bool) []types.Message {
	s.hasMore = hasMore
	fresh := make([]types.Message, 0, len(history))
	seen := make(map[string]bool, len(history))
	for _, msg := range history {
		if seen[msg.ID] || s.lookupMessage(msg) != nil {
			continue
		}
		seen[msg.ID] = true
		msg.Status = types.StatusSent
		fresh = append(fresh, msg)
	}
	sortByServerOrder(fresh)
	s.prependSlots(fresh)
	for i := range fresh {
		fresh[i] = s.slots[i].msg
	}
	return fresh
}

// MarkRead stamps readAt on received messages created at or before upTo.
func (s *Store) MarkRead(upTo, at int64) []types.Message {
	var changed []types.Message
	for _, sl := range s.slots {
		msg := &sl.msg
		if msg.SenderID == s.selfID || msg.Deleted || msg.ReadAt != nil || !confirmed(*msg) {
			continue
		}
		if msg.CreatedAt > upTo {
			continue
		}
		readAt := at
		msg.ReadAt = &readAt
		changed = append(changed, *msg)
	}
	return changed
}

// Unread counts received, unread, live messages.
func (s *Store) Unread() int {
	n := 0
	for _, sl := range s.slots {
		msg := sl.msg
		if msg.SenderID != s.selfID && !msg.Deleted && msg.ReadAt == nil && confirmed(msg) {
			n++
		}
	}
	return n
}

func sortByServerOrder(msgs []types.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		return msgs[i].ID < msgs[j].ID
	})
}
