// Package conversations tracks the conversation list and owns one message
// store per conversation.
package conversations

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adamavenir/murmur/internal/messages"
	"github.com/adamavenir/murmur/internal/types"
)

// PairKey returns the canonical key for a participant pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Store is the conversation list of one signed-in user. It is owned by the
// engine loop and is not safe for concurrent use.
type Store struct {
	selfID string
	now    func() time.Time

	convs   map[string]*types.Conversation
	byPair  map[string]string
	logs    map[string]*messages.Store
	viewing map[string]bool
}

// New returns an empty store for selfID.
func New(selfID string, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		selfID:  selfID,
		now:     now,
		convs:   make(map[string]*types.Conversation),
		byPair:  make(map[string]string),
		logs:    make(map[string]*messages.Store),
		viewing: make(map[string]bool),
	}
}

// SelfID returns the user the store belongs to.
func (s *Store) SelfID() string { return s.selfID }

// Upsert merges a conversation record from the service. Activity only moves
// forward and a tombstone is never lifted.
func (s *Store) Upsert(c types.Conversation) bool {
	if c.ID == "" {
		return false
	}
	cur, ok := s.convs[c.ID]
	if !ok {
		if s.viewing[c.ID] {
			c.UnreadCount = 0
		}
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
		stored := c
		s.convs[c.ID] = &stored
		s.byPair[PairKey(c.Participants[0], c.Participants[1])] = c.ID
		return true
	}
	before := *cur
	if c.LastMessageAt > cur.LastMessageAt {
		cur.LastMessageAt = c.LastMessageAt
	}
	if !s.viewing[c.ID] && c.UnreadCount >= 0 {
		cur.UnreadCount = c.UnreadCount
	}
	cur.Archived = c.Archived
	cur.Tombstoned = cur.Tombstoned || c.Tombstoned
	cur.Encrypted = cur.Encrypted || c.Encrypted
	if cur.ListingID == nil {
		cur.ListingID = c.ListingID
	}
	return *cur != before
}

// Get returns a conversation by id.
func (s *Store) Get(id string) (types.Conversation, bool) {
	c, ok := s.convs[id]
	if !ok {
		return types.Conversation{}, false
	}
	return *c, true
}

// Find returns the conversation between two participants.
func (s *Store) Find(a, b string) (types.Conversation, bool) {
	id, ok := s.byPair[PairKey(a, b)]
	if !ok {
		return types.Conversation{}, false
	}
	return s.Get(id)
}

// Messages returns the message store of a conversation, creating it on
// first use.
func (s *Store) Messages(id string) *messages.Store {
	log, ok := s.logs[id]
	if !ok {
		log = messages.New(id, s.selfID, s.now)
		s.logs[id] = log
	}
	return log
}

// Loaded reports whether a message store exists for id.
func (s *Store) Loaded(id string) bool {
	_, ok := s.logs[id]
	return ok
}

// SetViewing marks a conversation as on screen; viewed conversations do not
// accumulate unread counts.
func (s *Store) SetViewing(id string, on bool) {
	if on {
		s.viewing[id] = true
		return
	}
	delete(s.viewing, id)
}

// Viewing reports whether id is on screen.
func (s *Store) Viewing(id string) bool { return s.viewing[id] }

// OnMessage records a newly inserted message: activity moves forward and
// messages from others count as unread unless the conversation is on screen.
func (s *Store) OnMessage(msg types.Message) bool {
	c, ok := s.convs[msg.ConversationID]
	if !ok {
		return false
	}
	changed := false
	if msg.CreatedAt > c.LastMessageAt {
		c.LastMessageAt = msg.CreatedAt
		changed = true
	}
	if msg.SenderID != s.selfID && !msg.Deleted && msg.ReadAt == nil && !s.viewing[c.ID] {
		c.UnreadCount++
		changed = true
	}
	return changed
}

// MarkRead clears the unread count.
func (s *Store) MarkRead(id string) bool {
	c, ok := s.convs[id]
	if !ok || c.UnreadCount == 0 {
		return false
	}
	c.UnreadCount = 0
	return true
}

// Archive sets or clears the archived flag.
func (s *Store) Archive(id string, archived bool) error {
	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("archive %s: %w", id, types.ErrNotFound)
	}
	if c.Tombstoned {
		return &types.ConflictError{MessageID: id, Notice: "conversation was deleted"}
	}
	c.Archived = archived
	return nil
}

// Tombstone hides a conversation for good. Records are never removed.
func (s *Store) Tombstone(id string) error {
	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("tombstone %s: %w", id, types.ErrNotFound)
	}
	c.Tombstoned = true
	return nil
}

// Ordered returns conversations by most recent activity. Archived ones are
// included only on request; tombstoned ones never are.
func (s *Store) Ordered(includeArchived bool) []types.Conversation {
	out := make([]types.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		if c.Tombstoned || (c.Archived && !includeArchived) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out
}

// TotalUnread sums unread counts over visible conversations.
func (s *Store) TotalUnread() int {
	total := 0
	for _, c := range s.convs {
		if !c.Tombstoned && !c.Archived {
			total += c.UnreadCount
		}
	}
	return total
}
