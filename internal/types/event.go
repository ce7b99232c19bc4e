package types

import (
	"encoding/json"
	"fmt"
)

// EventOp is the mutation kind carried by a push event.
type EventOp string

const (
	OpInsert    EventOp = "insert"
	OpUpdate    EventOp = "update"
	OpDelete    EventOp = "delete"
	OpHeartbeat EventOp = "heartbeat"
)

// EventEntity names the record type a push event applies to.
type EventEntity string

const (
	EntityMessage      EventEntity = "message"
	EntityReaction     EventEntity = "reaction"
	EntityConversation EventEntity = "conversation"
	EntityTyping       EventEntity = "typing"
)

// Event is the envelope delivered by the push channel.
type Event struct {
	Op             EventOp         `json:"op"`
	Entity         EventEntity     `json:"entity,omitempty"`
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	At             int64           `json:"at"`
	// Offset is the position of the event in the service's log, when known.
	Offset int64 `json:"offset,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload.
func NewEvent(op EventOp, entity EventEntity, conversationID string, payload any, at int64) (Event, error) {
	ev := Event{Op: op, Entity: entity, ConversationID: conversationID, At: at}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", entity, err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

// Heartbeat builds a liveness-only event.
func Heartbeat(conversationID string, at int64) Event {
	return Event{Op: OpHeartbeat, ConversationID: conversationID, At: at}
}

// Message decodes a message payload.
func (e Event) Message() (Message, error) {
	var msg Message
	if err := e.decode(EntityMessage, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Reaction decodes a reaction payload.
func (e Event) Reaction() (ReactionEntry, error) {
	var r ReactionEntry
	if err := e.decode(EntityReaction, &r); err != nil {
		return ReactionEntry{}, err
	}
	return r, nil
}

// Conversation decodes a conversation payload.
func (e Event) Conversation() (Conversation, error) {
	var c Conversation
	if err := e.decode(EntityConversation, &c); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// Typing decodes a typing payload.
func (e Event) Typing() (TypingSignal, error) {
	var s TypingSignal
	if err := e.decode(EntityTyping, &s); err != nil {
		return TypingSignal{}, err
	}
	return s, nil
}

func (e Event) decode(want EventEntity, into any) error {
	if e.Entity != want {
		return fmt.Errorf("event entity %q is not %q", e.Entity, want)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s event has no payload", want)
	}
	if err := json.Unmarshal(e.Payload, into); err != nil {
		return fmt.Errorf("decode %s payload: %w", want, err)
	}
	return nil
}
