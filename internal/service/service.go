// Package service declares the collaborators the engine talks to: the
// persistence and push service, file storage and media streams.
package service

import (
	"context"
	"io"

	"github.com/adamavenir/murmur/internal/types"
)

// Page is one window of messages, oldest first.
type Page struct {
	Messages []types.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
	// FetchedAt is the service time the page was read (unix ms).
	FetchedAt int64 `json:"fetched_at"`
}

// Store is the persistence side of the messaging service.
//
// SendMessage must be idempotent on the message's ClientID: resending a
// correlation key returns the record created the first time.
type Store interface {
	ListConversations(ctx context.Context, userID string) ([]types.Conversation, error)
	EnsureConversation(ctx context.Context, a, b string, listingID *string) (types.Conversation, error)
	ArchiveConversation(ctx context.Context, conversationID string, archived bool) error

	SendMessage(ctx context.Context, msg types.Message) (types.Message, error)
	// EditMessage replaces the body (or sealed payload) of edit.ID on behalf
	// of edit.SenderID.
	EditMessage(ctx context.Context, edit types.Message) (types.Message, error)
	DeleteMessage(ctx context.Context, messageID, actor string) (types.Message, error)
	FetchMessages(ctx context.Context, conversationID string, q types.MessageQuery) (Page, error)
	FetchReplies(ctx context.Context, parentID string, q types.MessageQuery) (Page, error)
	ThreadSummaries(ctx context.Context, conversationID string) ([]types.ThreadSummary, error)

	AddReaction(ctx context.Context, r types.ReactionEntry) error
	RemoveReaction(ctx context.Context, r types.ReactionEntry) error
	ReactionSnapshot(ctx context.Context, messageIDs []string) (map[string][]types.ReactionAggregate, error)

	MarkRead(ctx context.Context, marker types.ReadMarker) error
	SignalTyping(ctx context.Context, sig types.TypingSignal) error
}

// Handler receives what a subscription delivers. Calls may come from any
// goroutine.
type Handler interface {
	OnEvent(ev types.Event)
	OnStatus(state types.ConnectionState, err error)
}

// HandlerFuncs adapts two functions to a Handler.
type HandlerFuncs struct {
	Event  func(types.Event)
	Status func(types.ConnectionState, error)
}

func (h HandlerFuncs) OnEvent(ev types.Event) {
	if h.Event != nil {
		h.Event(ev)
	}
}

func (h HandlerFuncs) OnStatus(state types.ConnectionState, err error) {
	if h.Status != nil {
		h.Status(state, err)
	}
}

// Subscription is a live push feed for one conversation.
type Subscription interface {
	Close() error
}

// Channel is the push side of the messaging service.
type Channel interface {
	Subscribe(ctx context.Context, conversationID string, h Handler) (Subscription, error)
}

// FileStore accepts attachment bytes and returns a stable reference.
type FileStore interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// StreamKind names a live media stream.
type StreamKind string

const (
	StreamAudio StreamKind = "audio"
	StreamVideo StreamKind = "video"
)

// StreamHandle references a stream owned by the media service.
type StreamHandle struct {
	ID   string     `json:"id"`
	Kind StreamKind `json:"kind"`
	Ref  string     `json:"ref"`
}

// StreamSource yields stream handles for voice and video. Negotiation is the
// media service's business; the engine only attaches the reference.
type StreamSource interface {
	Open(ctx context.Context, kind StreamKind) (StreamHandle, error)
}
