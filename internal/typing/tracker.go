// Package typing tracks ephemeral per-conversation typing indicators.
package typing

import (
	"sort"
	"time"

	"github.com/adamavenir/murmur/internal/types"
)

// DefaultTTL is how long an indicator survives after the last signal.
const DefaultTTL = 3 * time.Second

// Tracker holds typing entries keyed by conversation and user. It is not safe
// for concurrent use; the engine loop owns it.
type Tracker struct {
	ttl     time.Duration
	now     func() time.Time
	entries map[string]map[string]types.TypingState
}

// NewTracker creates a tracker. A nil clock uses time.Now.
func NewTracker(ttl time.Duration, now func() time.Time) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]map[string]types.TypingState),
	}
}

// TTL returns the configured time-to-live.
func (t *Tracker) TTL() time.Duration { return t.ttl }

// SetTyping inserts or refreshes an entry so it expires TTL from now.
func (t *Tracker) SetTyping(conversationID, userID, displayName string) types.TypingState {
	byUser := t.entries[conversationID]
	if byUser == nil {
		byUser = make(map[string]types.TypingState)
		t.entries[conversationID] = byUser
	}
	if displayName == "" {
		displayName = byUser[userID].DisplayName
	}
	if displayName == "" {
		displayName = userID
	}
	state := types.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		DisplayName:    displayName,
		ExpiresAt:      t.now().Add(t.ttl),
	}
	byUser[userID] = state
	return state
}

// Clear removes a user's entry at once; a message from that user ends typing.
func (t *Tracker) Clear(conversationID, userID string) bool {
	byUser := t.entries[conversationID]
	if _, ok := byUser[userID]; !ok {
		return false
	}
	delete(byUser, userID)
	if len(byUser) == 0 {
		delete(t.entries, conversationID)
	}
	return true
}

// TypingUsers returns live entries for the conversation, excluding caller,
// ordered by display name. Expired entries are evicted on the way.
func (t *Tracker) TypingUsers(conversationID, caller string) []types.TypingState {
	now := t.now()
	byUser := t.entries[conversationID]
	out := make([]types.TypingState, 0, len(byUser))
	for userID, state := range byUser {
		if !state.Live(now) {
			delete(byUser, userID)
			continue
		}
		if userID == caller {
			continue
		}
		out = append(out, state)
	}
	if len(byUser) == 0 {
		delete(t.entries, conversationID)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Sweep evicts every expired entry and returns the conversations that changed.
func (t *Tracker) Sweep() []string {
	now := t.now()
	var changed []string
	for conversationID, byUser := range t.entries {
		removed := false
		for userID, state := range byUser {
			if !state.Live(now) {
				delete(byUser, userID)
				removed = true
			}
		}
		if len(byUser) == 0 {
			delete(t.entries, conversationID)
		}
		if removed {
			changed = append(changed, conversationID)
		}
	}
	sort.Strings(changed)
	return changed
}

// Forget drops all entries for a conversation that is no longer open.
func (t *Tracker) Forget(conversationID string) {
	delete(t.entries, conversationID)
}

// Len returns the number of stored entries, expired or not.
func (t *Tracker) Len() int {
	n := 0
	for _, byUser := range t.entries {
		n += len(byUser)
	}
	return n
}
