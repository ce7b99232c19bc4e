package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
)

// fakeService is an in-memory messaging service. Hooks let tests fail or
// stall individual calls.
type fakeService struct {
	mu        sync.Mutex
	clock     int64
	seq       int
	messages  map[string][]types.Message
	byClient  map[string]types.Message
	reactions map[string][]types.ReactionEntry
	handlers  map[string]service.Handler
	sends     int
	edits     []types.Message

	sendHook  func(msg types.Message) error
	sendGate  chan struct{}
	reactGate chan struct{}
}

func newFakeService() *fakeService {
	return &fakeService{
		clock:     1_000,
		messages:  make(map[string][]types.Message),
		byClient:  make(map[string]types.Message),
		reactions: make(map[string][]types.ReactionEntry),
		handlers:  make(map[string]service.Handler),
	}
}

func (f *fakeService) tick() int64 {
	f.clock++
	return f.clock
}

// seed stores a message as if another client sent it.
func (f *fakeService) seed(conv, sender, text string) types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	msg := types.Message{
		ID:             fmt.Sprintf("msg-%d", f.seq),
		ConversationID: conv,
		SenderID:       sender,
		Body:           types.Text(text),
		CreatedAt:      f.tick(),
		Status:         types.StatusSent,
	}
	f.messages[conv] = append(f.messages[conv], msg)
	return msg
}

func (f *fakeService) drop(conv, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.messages[conv]
	for i, msg := range list {
		if msg.ID == id {
			f.messages[conv] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (f *fakeService) find(id string) (types.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, list := range f.messages {
		for _, msg := range list {
			if msg.ID == id {
				return msg, true
			}
		}
	}
	return types.Message{}, false
}

func (f *fakeService) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func (f *fakeService) handler(conv string) service.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[conv]
}

func (f *fakeService) ListConversations(ctx context.Context, userID string) ([]types.Conversation, error) {
	return nil, nil
}

func (f *fakeService) EnsureConversation(ctx context.Context, a, b string, listingID *string) (types.Conversation, error) {
	return types.Conversation{ID: "cnv-" + a + "-" + b, Participants: [2]string{a, b}, ListingID: listingID}, nil
}

func (f *fakeService) ArchiveConversation(ctx context.Context, conversationID string, archived bool) error {
	return nil
}

func (f *fakeService) SendMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	if f.sendGate != nil {
		select {
		case <-f.sendGate:
		case <-ctx.Done():
			return types.Message{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.sendHook != nil {
		if err := f.sendHook(msg); err != nil {
			return types.Message{}, err
		}
	}
	if existing, ok := f.byClient[msg.ClientID]; ok {
		return existing, nil
	}
	f.seq++
	out := msg
	out.ID = fmt.Sprintf("msg-%d", f.seq)
	out.Status = types.StatusSent
	out.CreatedAt = f.tick()
	f.messages[msg.ConversationID] = append(f.messages[msg.ConversationID], out)
	f.byClient[msg.ClientID] = out
	return out, nil
}

func (f *fakeService) update(id string, fn func(*types.Message)) (types.Message, error) {
	for conv, list := range f.messages {
		for i := range list {
			if list[i].ID == id {
				fn(&f.messages[conv][i])
				return f.messages[conv][i], nil
			}
		}
	}
	return types.Message{}, types.ErrNotFound
}

func (f *fakeService) EditMessage(ctx context.Context, edit types.Message) (types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit)
	at := f.tick()
	return f.update(edit.ID, func(m *types.Message) {
		m.Body = edit.Body
		m.EditedAt = &at
	})
}

func (f *fakeService) DeleteMessage(ctx context.Context, messageID, actor string) (types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.update(messageID, func(m *types.Message) {
		m.Deleted = true
		m.Body = types.Cleared(m.Body)
	})
}

func (f *fakeService) FetchMessages(ctx context.Context, conversationID string, q types.MessageQuery) (service.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var window []types.Message
	for _, msg := range f.messages[conversationID] {
		if msg.Deleted && !q.IncludeDeleted {
			continue
		}
		if q.Before != nil && !q.Before.Before(msg) {
			continue
		}
		window = append(window, msg)
	}
	sort.Slice(window, func(i, j int) bool { return window[i].CreatedAt < window[j].CreatedAt })
	more := false
	if q.Limit > 0 && len(window) > q.Limit {
		window = window[len(window)-q.Limit:]
		more = true
	}
	return service.Page{Messages: window, HasMore: more, FetchedAt: f.clock}, nil
}

func (f *fakeService) FetchReplies(ctx context.Context, parentID string, q types.MessageQuery) (service.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var replies []types.Message
	for _, list := range f.messages {
		for _, msg := range list {
			if msg.IsReply() && *msg.ReplyTo == parentID {
				replies = append(replies, msg)
			}
		}
	}
	return service.Page{Messages: replies, FetchedAt: f.clock}, nil
}

func (f *fakeService) ThreadSummaries(ctx context.Context, conversationID string) ([]types.ThreadSummary, error) {
	return nil, nil
}

func (f *fakeService) AddReaction(ctx context.Context, r types.ReactionEntry) error {
	if f.reactGate != nil {
		select {
		case <-f.reactGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[r.MessageID] = append(f.reactions[r.MessageID], r)
	return nil
}

func (f *fakeService) RemoveReaction(ctx context.Context, r types.ReactionEntry) error {
	if f.reactGate != nil {
		select {
		case <-f.reactGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.reactions[r.MessageID]
	for i, e := range list {
		if e.Emoji == r.Emoji && e.UserID == r.UserID {
			f.reactions[r.MessageID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeService) ReactionSnapshot(ctx context.Context, messageIDs []string) (map[string][]types.ReactionAggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]types.ReactionAggregate)
	for _, id := range messageIDs {
		byEmoji := map[string]*types.ReactionAggregate{}
		var order []string
		for _, r := range f.reactions[id] {
			agg, ok := byEmoji[r.Emoji]
			if !ok {
				agg = &types.ReactionAggregate{MessageID: id, Emoji: r.Emoji}
				byEmoji[r.Emoji] = agg
				order = append(order, r.Emoji)
			}
			agg.Users = append(agg.Users, r.UserID)
			agg.Count++
		}
		for _, e := range order {
			out[id] = append(out[id], *byEmoji[e])
		}
	}
	return out, nil
}

func (f *fakeService) MarkRead(ctx context.Context, marker types.ReadMarker) error { return nil }

func (f *fakeService) SignalTyping(ctx context.Context, sig types.TypingSignal) error { return nil }

type fakeSub struct{ f *fakeService }

func (s fakeSub) Close() error { return nil }

func (f *fakeService) Subscribe(ctx context.Context, conversationID string, h service.Handler) (service.Subscription, error) {
	f.mu.Lock()
	f.handlers[conversationID] = h
	f.mu.Unlock()
	h.OnStatus(types.ConnConnected, nil)
	return fakeSub{f: f}, nil
}

type failingFiles struct{}

func (failingFiles) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	return "", fmt.Errorf("bucket unavailable")
}
