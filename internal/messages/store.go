// Package messages holds the per-conversation message log and the optimistic
// send protocol.
//
// Records live in an arena of slots ordered by local sequence number. Temp
// ids, server ids and correlation keys are side indexes that resolve to the
// slot's sequence number, so a temp record is replaced in place when its
// server id arrives and is never shown twice.
package messages

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/types"
)

// seqStep spaces sequence numbers so a recovered record can take a number
// between two neighbours without renumbering them.
const seqStep int64 = 1 << 16

type slot struct {
	msg    types.Message
	tempID string
	err    error

	// queued holds edit/delete ops waiting for the send to resolve.
	queued []Op

	// serverBody is the last body confirmed by the service; optimistic
	// edits and deletes revert to it.
	serverBody    types.Body
	serverEdited  *int64
	confirmedEdit int64
	pendingEdits  int
	pendingDelete bool
}

// Store is the ordered message log of one conversation. It is owned by the
// engine loop and is not safe for concurrent use.
type Store struct {
	conversationID string
	selfID         string
	now            func() time.Time

	slots    []*slot
	byTemp   map[string]int64
	byID     map[string]int64
	byClient map[string]int64

	nextSeq int64
	lowSeq  int64
	hasMore bool
}

// New creates an empty store for a conversation viewed by selfID.
func New(conversationID, selfID string, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		conversationID: conversationID,
		selfID:         selfID,
		now:            now,
		byTemp:         make(map[string]int64),
		byID:           make(map[string]int64),
		byClient:       make(map[string]int64),
		nextSeq:        seqStep,
		lowSeq:         seqStep,
		hasMore:        true,
	}
}

// ConversationID returns the conversation the store belongs to.
func (s *Store) ConversationID() string { return s.conversationID }

// Len returns the number of records, tombstones included.
func (s *Store) Len() int { return len(s.slots) }

// At returns the record at display index i.
func (s *Store) At(i int) types.Message { return s.slots[i].msg }

// Snapshot returns a copy of all records in display order.
func (s *Store) Snapshot() []types.Message {
	out := make([]types.Message, len(s.slots))
	for i, sl := range s.slots {
		out[i] = sl.msg
	}
	return out
}

// Get looks a record up by temp id, server id or correlation key.
func (s *Store) Get(id string) (types.Message, bool) {
	sl := s.lookup(id)
	if sl == nil {
		return types.Message{}, false
	}
	return sl.msg, true
}

// Index returns the display index of a record.
func (s *Store) Index(id string) (int, bool) {
	seq, ok := s.seqOf(id)
	if !ok {
		return 0, false
	}
	i := s.position(seq)
	return i, i < len(s.slots) && s.slots[i].msg.Seq == seq
}

// Err returns the failure recorded for a failed send.
func (s *Store) Err(id string) error {
	if sl := s.lookup(id); sl != nil {
		return sl.err
	}
	return nil
}

// HasMore reports whether older history may remain on the service.
func (s *Store) HasMore() bool { return s.hasMore }

// SetHasMore records whether older history remains.
func (s *Store) SetHasMore(more bool) { s.hasMore = more }

// Unsent returns pending and failed records in sequence order.
func (s *Store) Unsent() []types.Message {
	var out []types.Message
	for _, sl := range s.slots {
		if sl.msg.Status == types.StatusPending || sl.msg.Status == types.StatusFailed {
			out = append(out, sl.msg)
		}
	}
	return out
}

// OldestCursor returns the cursor of the oldest confirmed record.
func (s *Store) OldestCursor() (types.MessageCursor, bool) {
	for _, sl := range s.slots {
		if confirmed(sl.msg) {
			return types.MessageCursor{ID: sl.msg.ID, CreatedAt: sl.msg.CreatedAt}, true
		}
	}
	return types.MessageCursor{}, false
}

// LastActivity returns the newest CreatedAt among live records.
func (s *Store) LastActivity() int64 {
	var last int64
	for _, sl := range s.slots {
		if !sl.msg.Deleted && sl.msg.CreatedAt > last {
			last = sl.msg.CreatedAt
		}
	}
	return last
}

func confirmed(msg types.Message) bool {
	return msg.Status == types.StatusSent && !core.IsTempID(msg.ID)
}

func (s *Store) seqOf(id string) (int64, bool) {
	if seq, ok := s.byID[id]; ok {
		return seq, true
	}
	if seq, ok := s.byTemp[id]; ok {
		return seq, true
	}
	seq, ok := s.byClient[id]
	return seq, ok
}

func (s *Store) position(seq int64) int {
	return sort.Search(len(s.slots), func(i int) bool { return s.slots[i].msg.Seq >= seq })
}

func (s *Store) lookup(id string) *slot {
	if id == "" {
		return nil
	}
	seq, ok := s.seqOf(id)
	if !ok {
		return nil
	}
	i := s.position(seq)
	if i < len(s.slots) && s.slots[i].msg.Seq == seq {
		return s.slots[i]
	}
	return nil
}

func (s *Store) lookupMessage(msg types.Message) *slot {
	if sl := s.lookup(msg.ID); sl != nil {
		return sl
	}
	if msg.ClientID != "" {
		return s.lookup(msg.ClientID)
	}
	return nil
}

func (s *Store) index(sl *slot) {
	seq := sl.msg.Seq
	if core.IsTempID(sl.msg.ID) {
		s.byTemp[sl.msg.ID] = seq
	} else if sl.msg.ID != "" {
		s.byID[sl.msg.ID] = seq
	}
	if sl.msg.ClientID != "" {
		s.byClient[sl.msg.ClientID] = seq
	}
}

func (s *Store) unindex(sl *slot) {
	seq := sl.msg.Seq
	drop := func(m map[string]int64, key string) {
		if key != "" && m[key] == seq {
			delete(m, key)
		}
	}
	drop(s.byTemp, sl.tempID)
	drop(s.byTemp, sl.msg.ID)
	drop(s.byID, sl.msg.ID)
	drop(s.byClient, sl.msg.ClientID)
}

// appendSlot assigns the next sequence number and appends.
func (s *Store) appendSlot(msg types.Message) *slot {
	msg.Seq = s.nextSeq
	s.nextSeq += seqStep
	if msg.Seq < s.lowSeq {
		s.lowSeq = msg.Seq
	}
	sl := newSlot(msg)
	s.slots = append(s.slots, sl)
	s.index(sl)
	return sl
}

// prependSlots assigns sequence numbers below the current minimum.
func (s *Store) prependSlots(msgs []types.Message) {
	if len(msgs) == 0 {
		return
	}
	head := make([]*slot, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		s.lowSeq -= seqStep
		msg := msgs[i]
		msg.Seq = s.lowSeq
		head[i] = newSlot(msg)
		s.index(head[i])
	}
	s.slots = append(head, s.slots...)
}

// placeSlot inserts a confirmed record that was missed while live records
// kept arriving. It goes before the first confirmed record that sorts after
// it by (CreatedAt, ID); unsent records keep their places. A record newer
// than every confirmed one is appended.
func (s *Store) placeSlot(msg types.Message) *slot {
	p := -1
	for i, sl := range s.slots {
		if confirmed(sl.msg) && serverBefore(msg, sl.msg) {
			p = i
			break
		}
	}
	if p < 0 {
		return s.appendSlot(msg)
	}
	if p == 0 {
		s.lowSeq -= seqStep
		msg.Seq = s.lowSeq
	} else {
		if s.slots[p].msg.Seq-s.slots[p-1].msg.Seq < 2 {
			s.respace()
		}
		lo, hi := s.slots[p-1].msg.Seq, s.slots[p].msg.Seq
		msg.Seq = lo + (hi-lo)/2
	}
	sl := newSlot(msg)
	s.slots = append(s.slots, nil)
	copy(s.slots[p+1:], s.slots[p:])
	s.slots[p] = sl
	s.index(sl)
	return sl
}

// respace renumbers every slot seqStep apart and rebuilds the indexes.
func (s *Store) respace() {
	clear(s.byTemp)
	clear(s.byID)
	clear(s.byClient)
	for i, sl := range s.slots {
		sl.msg.Seq = int64(i+1) * seqStep
		s.index(sl)
		if sl.tempID != "" {
			s.byTemp[sl.tempID] = sl.msg.Seq
		}
	}
	s.lowSeq = seqStep
	s.nextSeq = int64(len(s.slots)+1) * seqStep
}

func serverBefore(a, b types.Message) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

func (s *Store) removeSlot(sl *slot) {
	i := s.position(sl.msg.Seq)
	if i >= len(s.slots) || s.slots[i] != sl {
		return
	}
	s.unindex(sl)
	s.slots = append(s.slots[:i], s.slots[i+1:]...)
}

func newSlot(msg types.Message) *slot {
	sl := &slot{msg: msg, serverBody: msg.Body, serverEdited: msg.EditedAt}
	if core.IsTempID(msg.ID) {
		sl.tempID = msg.ID
	}
	if msg.EditedAt != nil {
		sl.confirmedEdit = *msg.EditedAt
	}
	return sl
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func validateBody(body types.Body) error {
	if body == nil {
		return &types.ValidationError{Field: "content", Reason: "message is empty"}
	}
	if !body.Kind().Valid() {
		return &types.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", body.Kind())}
	}
	if body.Kind() == types.KindText && strings.TrimSpace(body.Content()) == "" {
		return &types.ValidationError{Field: "content", Reason: "message is empty"}
	}
	if body.Kind() != types.KindText && body.Media() == "" {
		return &types.ValidationError{Field: "media_ref", Reason: "attachment has no reference"}
	}
	return nil
}

func tombstone(msg *types.Message) {
	msg.Body = types.Cleared(msg.Body)
	msg.Sealed = nil
	msg.Deleted = true
}
