// Package reactions aggregates emoji reactions per message.
package reactions

import (
	"strings"

	"github.com/adamavenir/murmur/internal/types"
)

type toggleKey struct {
	messageID string
	emoji     string
}

type pendingToggle struct {
	userID string
	added  bool
}

// emojiUsers is the ordered set of users holding one emoji.
type emojiUsers struct {
	users []string
	set   map[string]struct{}
}

type messageReactions struct {
	order   []string
	byEmoji map[string]*emojiUsers
}

// Aggregator is a derived index of reactions keyed by message id. The count
// of every aggregate is the size of its user set. It is owned by the engine
// loop and is not safe for concurrent use.
type Aggregator struct {
	currentUser string
	messages    map[string]*messageReactions
	inflight    map[toggleKey]pendingToggle
}

// New creates an aggregator that derives HasCurrentUserReacted for currentUser.
func New(currentUser string) *Aggregator {
	return &Aggregator{
		currentUser: currentUser,
		messages:    make(map[string]*messageReactions),
		inflight:    make(map[toggleKey]pendingToggle),
	}
}

// Add records userID's reaction. It reports false when the user already held it.
func (a *Aggregator) Add(messageID, emoji, userID string) bool {
	emoji = strings.TrimSpace(emoji)
	if messageID == "" || emoji == "" || userID == "" {
		return false
	}
	msg := a.messages[messageID]
	if msg == nil {
		msg = &messageReactions{byEmoji: make(map[string]*emojiUsers)}
		a.messages[messageID] = msg
	}
	entry := msg.byEmoji[emoji]
	if entry == nil {
		entry = &emojiUsers{set: make(map[string]struct{})}
		msg.byEmoji[emoji] = entry
		msg.order = append(msg.order, emoji)
	}
	if _, ok := entry.set[userID]; ok {
		return false
	}
	entry.set[userID] = struct{}{}
	entry.users = append(entry.users, userID)
	return true
}

// Remove drops userID's reaction. It reports false when there was nothing to drop.
func (a *Aggregator) Remove(messageID, emoji, userID string) bool {
	emoji = strings.TrimSpace(emoji)
	msg := a.messages[messageID]
	if msg == nil {
		return false
	}
	entry := msg.byEmoji[emoji]
	if entry == nil {
		return false
	}
	if _, ok := entry.set[userID]; !ok {
		return false
	}
	delete(entry.set, userID)
	for i, u := range entry.users {
		if u == userID {
			entry.users = append(entry.users[:i], entry.users[i+1:]...)
			break
		}
	}
	if len(entry.users) == 0 {
		delete(msg.byEmoji, emoji)
		for i, e := range msg.order {
			if e == emoji {
				msg.order = append(msg.order[:i], msg.order[i+1:]...)
				break
			}
		}
	}
	if len(msg.order) == 0 {
		delete(a.messages, messageID)
	}
	return true
}

// Has reports whether userID holds emoji on the message.
func (a *Aggregator) Has(messageID, emoji, userID string) bool {
	msg := a.messages[messageID]
	if msg == nil {
		return false
	}
	entry := msg.byEmoji[strings.TrimSpace(emoji)]
	if entry == nil {
		return false
	}
	_, ok := entry.set[userID]
	return ok
}

// Toggle adds the reaction if absent, otherwise removes it. While a toggle on
// (messageID, emoji) is unsettled, further toggles return ErrToggleInFlight.
func (a *Aggregator) Toggle(messageID, emoji, userID string) (bool, error) {
	emoji = strings.TrimSpace(emoji)
	key := toggleKey{messageID: messageID, emoji: emoji}
	if _, busy := a.inflight[key]; busy {
		return false, types.ErrToggleInFlight
	}
	added := !a.Has(messageID, emoji, userID)
	if added {
		a.Add(messageID, emoji, userID)
	} else {
		a.Remove(messageID, emoji, userID)
	}
	a.inflight[key] = pendingToggle{userID: userID, added: added}
	return added, nil
}

// Settle clears the in-flight flag. When err is non-nil the optimistic change
// is reverted; the return value reports whether a revert happened.
func (a *Aggregator) Settle(messageID, emoji string, err error) bool {
	emoji = strings.TrimSpace(emoji)
	key := toggleKey{messageID: messageID, emoji: emoji}
	pending, ok := a.inflight[key]
	if !ok {
		return false
	}
	delete(a.inflight, key)
	if err == nil {
		return false
	}
	if pending.added {
		return a.Remove(messageID, emoji, pending.userID)
	}
	return a.Add(messageID, emoji, pending.userID)
}

// InFlight reports whether a toggle on (messageID, emoji) is unsettled.
func (a *Aggregator) InFlight(messageID, emoji string) bool {
	_, ok := a.inflight[toggleKey{messageID: messageID, emoji: strings.TrimSpace(emoji)}]
	return ok
}

// ApplySnapshot replaces a message's reactions with the server's view.
// Unsettled toggles are re-applied on top so optimistic state is not lost.
func (a *Aggregator) ApplySnapshot(messageID string, snapshot []types.ReactionAggregate) {
	delete(a.messages, messageID)
	for _, agg := range snapshot {
		for _, user := range agg.Users {
			a.Add(messageID, agg.Emoji, user)
		}
	}
	for key, pending := range a.inflight {
		if key.messageID != messageID {
			continue
		}
		if pending.added {
			a.Add(messageID, key.emoji, pending.userID)
		} else {
			a.Remove(messageID, key.emoji, pending.userID)
		}
	}
}

// Aggregates returns the message's aggregates in first-reaction order.
func (a *Aggregator) Aggregates(messageID string) []types.ReactionAggregate {
	msg := a.messages[messageID]
	if msg == nil {
		return nil
	}
	out := make([]types.ReactionAggregate, 0, len(msg.order))
	for _, emoji := range msg.order {
		out = append(out, a.build(messageID, emoji, msg.byEmoji[emoji]))
	}
	return out
}

// Aggregate returns one emoji's aggregate.
func (a *Aggregator) Aggregate(messageID, emoji string) (types.ReactionAggregate, bool) {
	msg := a.messages[messageID]
	if msg == nil {
		return types.ReactionAggregate{}, false
	}
	emoji = strings.TrimSpace(emoji)
	entry := msg.byEmoji[emoji]
	if entry == nil {
		return types.ReactionAggregate{}, false
	}
	return a.build(messageID, emoji, entry), true
}

// Forget drops everything recorded for a message.
func (a *Aggregator) Forget(messageID string) {
	delete(a.messages, messageID)
	for key := range a.inflight {
		if key.messageID == messageID {
			delete(a.inflight, key)
		}
	}
}

func (a *Aggregator) build(messageID, emoji string, entry *emojiUsers) types.ReactionAggregate {
	users := make([]string, len(entry.users))
	copy(users, entry.users)
	_, mine := entry.set[a.currentUser]
	return types.ReactionAggregate{
		MessageID:             messageID,
		Emoji:                 emoji,
		Users:                 users,
		Count:                 len(users),
		HasCurrentUserReacted: mine,
	}
}
