// Package realtime turns pushed events into store mutations and tracks the
// liveness of each subscription.
package realtime

import (
	"fmt"

	"github.com/adamavenir/murmur/internal/conversations"
	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/messages"
	"github.com/adamavenir/murmur/internal/metrics"
	"github.com/adamavenir/murmur/internal/reactions"
	"github.com/adamavenir/murmur/internal/threads"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/adamavenir/murmur/internal/typing"
)

// Opener decrypts sealed payloads before they reach a store.
type Opener interface {
	Open(msg types.Message) (types.Message, error)
}

// Config wires a Normalizer to the stores it feeds.
type Config struct {
	SelfID        string
	Conversations *conversations.Store
	Reactions     *reactions.Aggregator
	Threads       *threads.Index
	Typing        *typing.Tracker
	Metrics       *metrics.Metrics
	Opener        Opener
}

// Normalizer is the single entry point for remote mutations. Apply must run
// on the engine loop.
type Normalizer struct {
	selfID    string
	convs     *conversations.Store
	reactions *reactions.Aggregator
	threads   *threads.Index
	typing    *typing.Tracker
	metrics   *metrics.Metrics
	opener    Opener
}

// Outcome summarises what one event or reconciliation changed.
type Outcome struct {
	ConversationID string
	Changes        []messages.Change
	ReactionsOf    []string
	Typing         bool
	Conversation   bool
}

// Empty reports whether nothing observable changed.
func (o Outcome) Empty() bool {
	return len(o.Changes) == 0 && len(o.ReactionsOf) == 0 && !o.Typing && !o.Conversation
}

// New creates a normalizer.
func New(cfg Config) *Normalizer {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return &Normalizer{
		selfID:    cfg.SelfID,
		convs:     cfg.Conversations,
		reactions: cfg.Reactions,
		threads:   cfg.Threads,
		typing:    cfg.Typing,
		metrics:   cfg.Metrics,
		opener:    cfg.Opener,
	}
}

// Apply folds one pushed event into local state.
func (n *Normalizer) Apply(ev types.Event) (Outcome, error) {
	out := Outcome{ConversationID: ev.ConversationID}
	entity := string(ev.Entity)
	if ev.Op == types.OpHeartbeat {
		entity = "heartbeat"
	}
	n.metrics.EventsApplied.WithLabelValues(entity, string(ev.Op)).Inc()

	switch {
	case ev.Op == types.OpHeartbeat:
		return out, nil
	case ev.Entity == types.EntityMessage:
		return n.applyMessage(ev, out)
	case ev.Entity == types.EntityReaction:
		return n.applyReaction(ev, out)
	case ev.Entity == types.EntityConversation:
		return n.applyConversation(ev, out)
	case ev.Entity == types.EntityTyping:
		return n.applyTyping(ev, out)
	}
	return out, fmt.Errorf("unknown event entity %q", ev.Entity)
}

func (n *Normalizer) applyMessage(ev types.Event, out Outcome) (Outcome, error) {
	msg, err := ev.Message()
	if err != nil {
		return out, err
	}
	if msg.ConversationID == "" {
		msg.ConversationID = ev.ConversationID
	}
	out.ConversationID = msg.ConversationID
	msg = n.open(msg)
	store := n.convs.Messages(msg.ConversationID)

	var change messages.Change
	switch ev.Op {
	case types.OpInsert:
		change = store.ApplyInsert(msg)
		if change.Kind == messages.ChangeResolved {
			n.metrics.EchoesDeduped.Inc()
		}
	case types.OpUpdate:
		change = store.ApplyUpdate(msg)
	case types.OpDelete:
		change = store.ApplyDelete(msg)
	default:
		return out, fmt.Errorf("unknown message op %q", ev.Op)
	}
	if change.Changed() {
		n.Track(change)
		out.Changes = append(out.Changes, change)
	}
	if ev.Op == types.OpInsert && msg.SenderID != n.selfID {
		out.Typing = n.typing.Clear(msg.ConversationID, msg.SenderID)
	}
	return out, nil
}

func (n *Normalizer) applyReaction(ev types.Event, out Outcome) (Outcome, error) {
	r, err := ev.Reaction()
	if err != nil {
		return out, err
	}
	var changed bool
	switch ev.Op {
	case types.OpInsert, types.OpUpdate:
		changed = n.reactions.Add(r.MessageID, r.Emoji, r.UserID)
	case types.OpDelete:
		changed = n.reactions.Remove(r.MessageID, r.Emoji, r.UserID)
	default:
		return out, fmt.Errorf("unknown reaction op %q", ev.Op)
	}
	if changed {
		out.ReactionsOf = append(out.ReactionsOf, r.MessageID)
	}
	return out, nil
}

func (n *Normalizer) applyConversation(ev types.Event, out Outcome) (Outcome, error) {
	c, err := ev.Conversation()
	if err != nil {
		return out, err
	}
	out.ConversationID = c.ID
	switch ev.Op {
	case types.OpInsert, types.OpUpdate:
		out.Conversation = n.convs.Upsert(c)
	case types.OpDelete:
		n.convs.Upsert(c)
		out.Conversation = n.convs.Tombstone(c.ID) == nil
	default:
		return out, fmt.Errorf("unknown conversation op %q", ev.Op)
	}
	return out, nil
}

func (n *Normalizer) applyTyping(ev types.Event, out Outcome) (Outcome, error) {
	sig, err := ev.Typing()
	if err != nil {
		return out, err
	}
	if sig.UserID == n.selfID {
		return out, nil
	}
	if sig.ConversationID == "" {
		sig.ConversationID = ev.ConversationID
	}
	switch ev.Op {
	case types.OpDelete:
		n.typing.Clear(sig.ConversationID, sig.UserID)
	default:
		n.typing.SetTyping(sig.ConversationID, sig.UserID, sig.DisplayName)
	}
	out.Typing = true
	return out, nil
}

// Track keeps the derived indexes in step with a message store change. The
// engine calls it for changes it makes itself.
func (n *Normalizer) Track(change messages.Change) {
	msg := change.Message
	switch change.Kind {
	case messages.ChangeInserted:
		n.threads.Observe(msg)
		n.convs.OnMessage(msg)
	case messages.ChangeResolved:
		if change.TempID != "" {
			n.threads.Rekey(change.TempID, msg)
			n.reactions.Forget(change.TempID)
		}
		n.threads.Observe(msg)
		n.convs.OnMessage(msg)
	case messages.ChangeUpdated:
		n.threads.Observe(msg)
	case messages.ChangeTombstoned:
		n.threads.Tombstone(msg)
	case messages.ChangeRemoved:
		n.threads.Forget(msg)
		n.reactions.Forget(msg.ID)
	}
}

// Reconcile applies an authoritative window to a conversation's store.
func (n *Normalizer) Reconcile(conversationID string, w messages.Window) (Outcome, messages.ReconcileResult) {
	out := Outcome{ConversationID: conversationID}
	for i := range w.Messages {
		w.Messages[i] = n.open(w.Messages[i])
	}
	res := n.convs.Messages(conversationID).Reconcile(w)
	for _, change := range res.Changes {
		n.Track(change)
		if change.Kind == messages.ChangeResolved {
			n.metrics.EchoesDeduped.Inc()
		}
	}
	out.Changes = res.Changes
	n.metrics.Reconciliations.Inc()
	n.metrics.GapFilled.Add(float64(res.Filled))
	n.metrics.StaleDropped.Add(float64(res.Removed))
	if res.Filled > 0 || res.Removed > 0 {
		logger.Info("reconciled conversation", "conversation", conversationID, "filled", res.Filled, "removed", res.Removed)
	}
	return out, res
}

// ApplyReactionSnapshot replaces aggregates for the given messages.
func (n *Normalizer) ApplyReactionSnapshot(snapshot map[string][]types.ReactionAggregate) []string {
	ids := make([]string, 0, len(snapshot))
	for messageID, aggs := range snapshot {
		n.reactions.ApplySnapshot(messageID, aggs)
		ids = append(ids, messageID)
	}
	return ids
}

// Open decrypts a sealed message, leaving it sealed on failure.
func (n *Normalizer) Open(msg types.Message) types.Message {
	return n.open(msg)
}

func (n *Normalizer) open(msg types.Message) types.Message {
	if msg.Sealed == nil || n.opener == nil || msg.Deleted {
		return msg
	}
	opened, err := n.opener.Open(msg)
	if err != nil {
		logger.Warn("could not open sealed message", "message", msg.ID, "err", err)
		return msg
	}
	return opened
}
