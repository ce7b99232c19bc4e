package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
)

// DefaultHeartbeat is how often a local feed proves it is alive.
const DefaultHeartbeat = 5 * time.Second

// Options configures a Local service.
type Options struct {
	// UserID is the signed-in user; writes on behalf of anyone else are
	// rejected.
	UserID    string
	Now       func() time.Time
	Heartbeat time.Duration
	// Mirror, when set, also receives every feed event this process writes.
	Mirror Mirror
}

// Mirror republishes events to clients that cannot tail the workspace log.
type Mirror interface {
	Publish(ctx context.Context, ev types.Event) error
}

// Local is a messaging service backed by a workspace directory: a sqlite
// index plus an append-only event log that several processes share. It
// implements service.Store and service.Channel.
type Local struct {
	ws        core.Workspace
	db        *sql.DB
	userID    string
	now       func() time.Time
	heartbeat time.Duration
	mirror    Mirror
	mu        sync.Mutex
}

var (
	_ service.Store   = (*Local)(nil)
	_ service.Channel = (*Local)(nil)
)

// Open opens the workspace's service for one user.
func Open(ws core.Workspace, opts Options) (*Local, error) {
	if strings.TrimSpace(opts.UserID) == "" {
		return nil, &types.ValidationError{Field: "user", Reason: "no user id"}
	}
	conn, err := OpenDatabase(ws)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	return &Local{
		ws:        ws,
		db:        conn,
		userID:    opts.UserID,
		now:       opts.Now,
		heartbeat: opts.Heartbeat,
		mirror:    opts.Mirror,
	}, nil
}

// Close releases the database.
func (l *Local) Close() error { return l.db.Close() }

// UserID returns the signed-in user.
func (l *Local) UserID() string { return l.userID }

func (l *Local) nowMillis() int64 { return l.now().UnixMilli() }

// write runs fn in a transaction, then appends the events it produced to the
// shared log.
func (l *Local) write(ctx context.Context, op string, fn func(tx *sql.Tx) ([]types.Event, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return classify(op, err)
	}
	events, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	for _, ev := range events {
		if err := appendEvent(l.ws.EventsPath(), ev); err != nil {
			return classify(op, err)
		}
	}
	if len(events) > 0 {
		touchDatabaseFile(l.ws.DBPath())
	}
	l.publish(ctx, events...)
	return nil
}

func (l *Local) publish(ctx context.Context, events ...types.Event) {
	if l.mirror == nil {
		return
	}
	for _, ev := range events {
		if !feedEntities[ev.Entity] {
			continue
		}
		if err := l.mirror.Publish(ctx, ev); err != nil {
			logger.Warn("mirror publish failed", "entity", ev.Entity, "conversation", ev.ConversationID, "err", err)
		}
	}
}

func (l *Local) event(op types.EventOp, entity types.EventEntity, conversationID string, payload any) (types.Event, error) {
	return types.NewEvent(op, entity, conversationID, payload, l.nowMillis())
}

// ListConversations returns userID's conversations, newest activity first.
func (l *Local) ListConversations(ctx context.Context, userID string) ([]types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	convs, err := GetConversationsForUser(l.db, userID)
	return convs, classify("list conversations", err)
}

// Conversation returns one of the user's conversations.
func (l *Local) Conversation(ctx context.Context, conversationID string) (types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return types.Conversation{}, err
	}
	conv, err := l.participantOf(l.db, conversationID)
	return conv, classify("get conversation", err)
}

// EnsureConversation returns the live conversation between a and b, creating
// it if needed.
func (l *Local) EnsureConversation(ctx context.Context, a, b string, listingID *string) (types.Conversation, error) {
	if a == "" || b == "" || a == b {
		return types.Conversation{}, &types.ValidationError{Field: "participants", Reason: "need two distinct users"}
	}
	if a != l.userID && b != l.userID {
		return types.Conversation{}, &types.PermissionError{MessageID: "", UserID: l.userID}
	}
	var out types.Conversation
	err := l.write(ctx, "ensure conversation", func(tx *sql.Tx) ([]types.Event, error) {
		existing, err := FindConversation(tx, a, b)
		if err != nil {
			return nil, err
		}
		if existing != nil && !existing.Tombstoned {
			out = *existing
			return nil, nil
		}
		out, err = CreateConversation(tx, a, b, listingID, false, l.nowMillis())
		if err != nil {
			return nil, err
		}
		ev, err := l.event(types.OpInsert, types.EntityConversation, out.ID, out)
		return []types.Event{ev}, err
	})
	return out, err
}

// ArchiveConversation sets the signed-in user's archive flag.
func (l *Local) ArchiveConversation(ctx context.Context, conversationID string, archived bool) error {
	return l.write(ctx, "archive conversation", func(tx *sql.Tx) ([]types.Event, error) {
		conv, err := l.participantOf(tx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.Tombstoned {
			return nil, &types.ConflictError{MessageID: conversationID, Notice: "conversation was deleted"}
		}
		if err := SetArchived(tx, conversationID, l.userID, archived, l.nowMillis()); err != nil {
			return nil, err
		}
		ev, err := l.event(types.OpUpdate, entityArchive, conversationID, archiveRecord{
			ConversationID: conversationID,
			UserID:         l.userID,
			Archived:       archived,
		})
		return []types.Event{ev}, err
	})
}

// EncryptConversation marks a conversation so new messages are sealed.
// Existing messages stay as they are.
func (l *Local) EncryptConversation(ctx context.Context, conversationID string) (types.Conversation, error) {
	var out types.Conversation
	err := l.write(ctx, "encrypt conversation", func(tx *sql.Tx) ([]types.Event, error) {
		conv, err := l.participantOf(tx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.Tombstoned {
			return nil, &types.ConflictError{MessageID: conversationID, Notice: "conversation was deleted"}
		}
		out = conv
		if conv.Encrypted {
			return nil, nil
		}
		conv.Encrypted = true
		if err := UpsertConversation(tx, conv); err != nil {
			return nil, err
		}
		out = conv
		ev, err := l.event(types.OpUpdate, types.EntityConversation, conv.ID, conv)
		return []types.Event{ev}, err
	})
	return out, err
}

// DeleteConversation tombstones a conversation for both participants.
func (l *Local) DeleteConversation(ctx context.Context, conversationID string) error {
	return l.write(ctx, "delete conversation", func(tx *sql.Tx) ([]types.Event, error) {
		conv, err := l.participantOf(tx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.Tombstoned {
			return nil, nil
		}
		conv.Tombstoned = true
		if err := UpsertConversation(tx, conv); err != nil {
			return nil, err
		}
		ev, err := l.event(types.OpDelete, types.EntityConversation, conv.ID, conv)
		return []types.Event{ev}, err
	})
}

func (l *Local) participantOf(tx DBTX, conversationID string) (types.Conversation, error) {
	conv, err := GetConversation(tx, conversationID)
	if err != nil {
		return types.Conversation{}, err
	}
	if conv == nil {
		return types.Conversation{}, fmt.Errorf("conversation %s: %w", conversationID, types.ErrNotFound)
	}
	if !conv.Has(l.userID) {
		return types.Conversation{}, &types.PermissionError{MessageID: conversationID, UserID: l.userID}
	}
	return *conv, nil
}

// SendMessage stores a new message. Resending a correlation key returns the
// message created the first time.
func (l *Local) SendMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	if msg.SenderID != l.userID {
		return types.Message{}, &types.PermissionError{MessageID: msg.ID, UserID: l.userID}
	}
	if msg.Sealed == nil && msg.Body == nil {
		return types.Message{}, &types.ValidationError{Field: "body", Reason: "empty"}
	}
	var out types.Message
	err := l.write(ctx, "send", func(tx *sql.Tx) ([]types.Event, error) {
		if msg.ClientID != "" {
			existing, err := GetMessageByClientID(tx, msg.ClientID)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				out = *existing
				return nil, nil
			}
		}
		conv, err := l.participantOf(tx, msg.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv.Tombstoned {
			return nil, &types.ConflictError{MessageID: conv.ID, Notice: "conversation was deleted"}
		}
		if msg.IsReply() {
			parent, err := GetMessage(tx, *msg.ReplyTo)
			if err != nil {
				return nil, err
			}
			if parent == nil || parent.ConversationID != conv.ID {
				return nil, &types.ValidationError{Field: "reply_to", Reason: "parent is not in this conversation"}
			}
		}

		record := types.Message{
			ClientID:       msg.ClientID,
			ConversationID: conv.ID,
			SenderID:       msg.SenderID,
			Body:           msg.Body,
			Sealed:         msg.Sealed,
			CreatedAt:      l.nowMillis(),
			ReplyTo:        msg.ReplyTo,
		}
		out, err = CreateMessage(tx, record)
		if err != nil {
			return nil, err
		}
		ev, err := l.event(types.OpInsert, types.EntityMessage, conv.ID, out)
		return []types.Event{ev}, err
	})
	return out, err
}

func (l *Local) ownMessage(tx DBTX, messageID, actor string) (types.Message, error) {
	if actor != l.userID {
		return types.Message{}, &types.PermissionError{MessageID: messageID, UserID: actor}
	}
	msg, err := GetMessage(tx, messageID)
	if err != nil {
		return types.Message{}, err
	}
	if msg == nil {
		return types.Message{}, fmt.Errorf("message %s: %w", messageID, types.ErrNotFound)
	}
	if msg.SenderID != actor {
		return types.Message{}, &types.PermissionError{MessageID: messageID, UserID: actor}
	}
	if msg.Deleted {
		return types.Message{}, &types.ConflictError{MessageID: messageID, Notice: "message was already deleted"}
	}
	return *msg, nil
}

// EditMessage replaces the body of one of the user's messages.
func (l *Local) EditMessage(ctx context.Context, edit types.Message) (types.Message, error) {
	var out types.Message
	err := l.write(ctx, "edit", func(tx *sql.Tx) ([]types.Event, error) {
		msg, err := l.ownMessage(tx, edit.ID, edit.SenderID)
		if err != nil {
			return nil, err
		}
		if edit.Sealed == nil && (edit.Body == nil || edit.Body.Kind() != msg.Kind()) {
			return nil, &types.ValidationError{Field: "body", Reason: "edit must keep the message type"}
		}
		at := l.nowMillis()
		msg.Body = edit.Body
		msg.Sealed = edit.Sealed
		msg.EditedAt = &at
		if err := UpsertMessage(tx, msg); err != nil {
			return nil, err
		}
		out = msg
		ev, err := l.event(types.OpUpdate, types.EntityMessage, msg.ConversationID, msg)
		return []types.Event{ev}, err
	})
	return out, err
}

// DeleteMessage tombstones one of the user's messages.
func (l *Local) DeleteMessage(ctx context.Context, messageID, actor string) (types.Message, error) {
	var out types.Message
	err := l.write(ctx, "delete", func(tx *sql.Tx) ([]types.Event, error) {
		msg, err := l.ownMessage(tx, messageID, actor)
		if err != nil {
			return nil, err
		}
		msg.Deleted = true
		msg.Body = types.Cleared(msg.Body)
		msg.Sealed = nil
		if err := UpsertMessage(tx, msg); err != nil {
			return nil, err
		}
		out = msg
		ev, err := l.event(types.OpDelete, types.EntityMessage, msg.ConversationID, msg)
		return []types.Event{ev}, err
	})
	return out, err
}

// FetchMessages returns a window of a conversation, oldest first.
func (l *Local) FetchMessages(ctx context.Context, conversationID string, q types.MessageQuery) (service.Page, error) {
	if err := ctx.Err(); err != nil {
		return service.Page{}, err
	}
	fetchedAt := l.nowMillis()
	if _, err := l.participantOf(l.db, conversationID); err != nil {
		return service.Page{}, classify("fetch messages", err)
	}
	msgs, more, err := GetMessages(l.db, MessageFilter{ConversationID: conversationID}, q)
	if err != nil {
		return service.Page{}, classify("fetch messages", err)
	}
	return service.Page{Messages: msgs, HasMore: more, FetchedAt: fetchedAt}, nil
}

// FetchReplies returns a window of a thread, oldest first.
func (l *Local) FetchReplies(ctx context.Context, parentID string, q types.MessageQuery) (service.Page, error) {
	if err := ctx.Err(); err != nil {
		return service.Page{}, err
	}
	fetchedAt := l.nowMillis()
	parent, err := GetMessage(l.db, parentID)
	if err != nil {
		return service.Page{}, classify("fetch replies", err)
	}
	if parent == nil {
		return service.Page{}, fmt.Errorf("fetch replies: message %s: %w", parentID, types.ErrNotFound)
	}
	if _, err := l.participantOf(l.db, parent.ConversationID); err != nil {
		return service.Page{}, err
	}
	msgs, more, err := GetMessages(l.db, MessageFilter{ConversationID: parent.ConversationID, ReplyTo: parentID}, q)
	if err != nil {
		return service.Page{}, classify("fetch replies", err)
	}
	return service.Page{Messages: msgs, HasMore: more, FetchedAt: fetchedAt}, nil
}

// ThreadSummaries returns live reply counts per parent as of now.
func (l *Local) ThreadSummaries(ctx context.Context, conversationID string) ([]types.ThreadSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := GetThreadSummaries(l.db, conversationID, l.nowMillis())
	return out, classify("thread summaries", err)
}

func (l *Local) reaction(ctx context.Context, op string, r types.ReactionEntry, add bool) error {
	if r.UserID != l.userID {
		return &types.PermissionError{MessageID: r.MessageID, UserID: r.UserID}
	}
	r.Emoji = strings.TrimSpace(r.Emoji)
	if r.Emoji == "" {
		return &types.ValidationError{Field: "emoji", Reason: "empty"}
	}
	return l.write(ctx, op, func(tx *sql.Tx) ([]types.Event, error) {
		msg, err := GetMessage(tx, r.MessageID)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, fmt.Errorf("message %s: %w", r.MessageID, types.ErrNotFound)
		}
		if _, err := l.participantOf(tx, msg.ConversationID); err != nil {
			return nil, err
		}
		var changed bool
		evOp := types.OpInsert
		if add {
			if msg.Deleted {
				return nil, &types.ConflictError{MessageID: msg.ID, Notice: "message was already deleted"}
			}
			if r.ReactedAt == 0 {
				r.ReactedAt = l.nowMillis()
			}
			changed, err = AddReaction(tx, r)
		} else {
			evOp = types.OpDelete
			changed, err = RemoveReaction(tx, r)
		}
		if err != nil || !changed {
			return nil, err
		}
		ev, err := l.event(evOp, types.EntityReaction, msg.ConversationID, r)
		return []types.Event{ev}, err
	})
}

// AddReaction records the user's reaction. Adding twice is a no-op.
func (l *Local) AddReaction(ctx context.Context, r types.ReactionEntry) error {
	return l.reaction(ctx, "add reaction", r, true)
}

// RemoveReaction drops the user's reaction. Removing a missing one is a no-op.
func (l *Local) RemoveReaction(ctx context.Context, r types.ReactionEntry) error {
	return l.reaction(ctx, "remove reaction", r, false)
}

// ReactionSnapshot aggregates reactions for the given messages.
func (l *Local) ReactionSnapshot(ctx context.Context, messageIDs []string) (map[string][]types.ReactionAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := GetReactionsForMessages(l.db, messageIDs, l.userID)
	return out, classify("reaction snapshot", err)
}

// MarkRead stamps received messages as read and broadcasts the receipts.
func (l *Local) MarkRead(ctx context.Context, marker types.ReadMarker) error {
	if marker.UserID != l.userID {
		return &types.PermissionError{MessageID: marker.ConversationID, UserID: marker.UserID}
	}
	if marker.ReadAt == 0 {
		marker.ReadAt = l.nowMillis()
	}
	if marker.UpTo == 0 {
		marker.UpTo = marker.ReadAt
	}
	return l.write(ctx, "mark read", func(tx *sql.Tx) ([]types.Event, error) {
		if _, err := l.participantOf(tx, marker.ConversationID); err != nil {
			return nil, err
		}
		changed, err := MarkMessagesRead(tx, marker)
		if err != nil {
			return nil, err
		}
		events := make([]types.Event, 0, len(changed))
		for _, msg := range changed {
			ev, err := l.event(types.OpUpdate, types.EntityMessage, msg.ConversationID, msg)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
		return events, nil
	})
}

// SignalTyping broadcasts a typing signal. Nothing is stored.
func (l *Local) SignalTyping(ctx context.Context, sig types.TypingSignal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sig.UserID != l.userID {
		return &types.PermissionError{MessageID: sig.ConversationID, UserID: sig.UserID}
	}
	ev, err := l.event(types.OpInsert, types.EntityTyping, sig.ConversationID, sig)
	if err != nil {
		return err
	}
	if err := appendEvent(l.ws.EventsPath(), ev); err != nil {
		return classify("typing", err)
	}
	l.publish(ctx, ev)
	return nil
}

// classify passes typed errors through and marks lock contention retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		validation *types.ValidationError
		permission *types.PermissionError
		conflict   *types.ConflictError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &permission), errors.As(err, &conflict),
		errors.Is(err, types.ErrNotFound), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return &types.TransientNetworkError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
