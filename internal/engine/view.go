package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/messages"
	"github.com/adamavenir/murmur/internal/realtime"
	"github.com/adamavenir/murmur/internal/search"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/threads"
	"github.com/adamavenir/murmur/internal/types"
)

// View is an open conversation: a live subscription plus the operations the
// UI performs on it. Closing a view unsubscribes but does not cancel sends
// already in flight.
type View struct {
	c     *Client
	id    string
	store *messages.Store

	monitor   *realtime.Monitor
	sub       service.Subscription
	subCancel context.CancelFunc
	gen       int
	closed    bool

	syncing bool
	resync  bool
	synced  bool
	older   bool

	debounce *search.Debouncer
}

// Open subscribes to a conversation and starts its initial sync. Opening a
// conversation that is already open returns the same view.
func (c *Client) Open(conversationID string) (*View, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, &types.ValidationError{Field: "conversation", Reason: "empty id"}
	}
	var v *View
	err := c.call(func() error {
		if existing := c.views[conversationID]; existing != nil {
			v = existing
			return nil
		}
		if conv, ok := c.convs.Get(conversationID); ok && conv.Tombstoned {
			return &types.ConflictError{MessageID: conversationID, Notice: "conversation was deleted"}
		}
		v = &View{
			c:        c,
			id:       conversationID,
			store:    c.convs.Messages(conversationID),
			monitor:  realtime.NewMonitor(c.opts.HeartbeatTimeout, c.opts.Now, c.opts.Metrics),
			debounce: search.NewDebouncer(search.DefaultDebounce),
		}
		c.views[conversationID] = v
		c.convs.SetViewing(conversationID, true)
		v.subscribe()
		v.startSync()
		return nil
	})
	return v, err
}

// ID returns the conversation id.
func (v *View) ID() string { return v.id }

// Close unsubscribes and forgets the view's ephemeral state.
func (v *View) Close() error {
	var sub service.Subscription
	err := v.c.call(func() error {
		if v.closed {
			return nil
		}
		v.closed = true
		v.monitor.Close()
		if v.subCancel != nil {
			v.subCancel()
		}
		sub, v.sub = v.sub, nil
		v.c.convs.SetViewing(v.id, false)
		v.c.typing.Forget(v.id)
		delete(v.c.views, v.id)
		v.c.emit(v.id, ChangedConnection|ChangedTyping)
		return nil
	})
	v.debounce.Stop()
	if sub != nil {
		if cerr := sub.Close(); cerr != nil {
			logger.Debug("close subscription", "conversation", v.id, "err", cerr)
		}
	}
	return err
}

// Resubscribe drops the current subscription and opens a new one. The new
// subscription reconciles once it reports connected.
func (v *View) Resubscribe() error {
	var old service.Subscription
	err := v.c.call(func() error {
		if v.closed {
			return ErrClosed
		}
		if v.subCancel != nil {
			v.subCancel()
		}
		old, v.sub = v.sub, nil
		v.monitor.Status(types.ConnConnecting)
		v.subscribe()
		v.c.emit(v.id, ChangedConnection)
		return nil
	})
	if old != nil {
		_ = old.Close()
	}
	return err
}

// Send appends a text message optimistically and persists it.
func (v *View) Send(text string) (types.Message, error) {
	return v.send(types.Draft{ConversationID: v.id, Body: types.Text(text)})
}

// Reply sends text into the thread under parentID.
func (v *View) Reply(parentID, text string) (types.Message, error) {
	return v.sendDraft(func() (types.Draft, error) {
		parent, ok := v.store.Get(parentID)
		if !ok {
			return types.Draft{}, fmt.Errorf("reply to %s: %w", parentID, types.ErrNotFound)
		}
		if parent.Status != types.StatusSent {
			return types.Draft{}, &types.ValidationError{Field: "reply_to", Reason: "parent message is not sent yet"}
		}
		if parent.Deleted {
			return types.Draft{}, &types.ConflictError{MessageID: parent.ID, Notice: "message was already deleted"}
		}
		if parent.IsReply() {
			parent.ID = *parent.ReplyTo
		}
		id := parent.ID
		return types.Draft{ConversationID: v.id, Body: types.Text(text), ReplyTo: &id}, nil
	})
}

// Attachment describes media to upload and send.
type Attachment struct {
	Name        string
	ContentType string
	Kind        types.MessageKind
	Reader      io.Reader
	Caption     string
	Width       int
	Height      int
	DurationMs  int64
}

// SendMedia uploads an attachment and sends it. When the upload fails the
// caption is still sent as text and a MediaUploadError is returned with the
// text message.
func (v *View) SendMedia(ctx context.Context, a Attachment) (types.Message, error) {
	if a.Reader == nil || strings.TrimSpace(a.Name) == "" {
		return types.Message{}, &types.ValidationError{Field: "attachment", Reason: "no file"}
	}
	if a.Kind == "" {
		a.Kind = types.KindFile
	}
	if !a.Kind.Valid() || a.Kind == types.KindText {
		return types.Message{}, &types.ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not a media type", a.Kind)}
	}

	counter := &countingReader{r: a.Reader}
	ref, err := v.upload(ctx, a.Name, a.ContentType, counter)
	if err != nil {
		uploadErr := &types.MediaUploadError{Name: a.Name, Err: err}
		logger.Warn("media upload failed", "conversation", v.id, "name", a.Name, "err", err)
		if strings.TrimSpace(a.Caption) == "" {
			return types.Message{}, uploadErr
		}
		msg, sendErr := v.Send(a.Caption)
		if sendErr != nil {
			return types.Message{}, fmt.Errorf("%w; caption: %v", uploadErr, sendErr)
		}
		return msg, uploadErr
	}

	var body types.Body
	switch a.Kind {
	case types.KindImage:
		body = types.ImageBody{MediaRef: ref, Caption: a.Caption, Width: a.Width, Height: a.Height}
	case types.KindVoice:
		body = types.VoiceBody{MediaRef: ref, DurationMs: a.DurationMs, Caption: a.Caption}
	default:
		body = types.FileBody{MediaRef: ref, Name: a.Name, Size: counter.n, Caption: a.Caption}
	}
	return v.send(types.Draft{ConversationID: v.id, Body: body})
}

// SendVoice attaches a live audio stream from the configured stream source.
func (v *View) SendVoice(ctx context.Context, caption string) (types.Message, error) {
	if v.c.opts.Streams == nil {
		return types.Message{}, &types.MediaUploadError{Name: "voice", Err: fmt.Errorf("no stream source")}
	}
	handle, err := v.c.opts.Streams.Open(ctx, service.StreamAudio)
	if err != nil {
		return types.Message{}, &types.MediaUploadError{Name: "voice", Err: err}
	}
	return v.send(types.Draft{ConversationID: v.id, Body: types.VoiceBody{MediaRef: handle.Ref, Caption: caption}})
}

func (v *View) upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if v.c.opts.Files == nil {
		return "", fmt.Errorf("no file store configured")
	}
	ref, err := v.c.opts.Files.Upload(ctx, name, contentType, r)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("file store returned an empty reference")
	}
	return ref, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (v *View) send(draft types.Draft) (types.Message, error) {
	return v.sendDraft(func() (types.Draft, error) { return draft, nil })
}

// sendDraft builds the draft on the loop so it can inspect the store.
func (v *View) sendDraft(build func() (types.Draft, error)) (types.Message, error) {
	var msg types.Message
	err := v.c.call(func() error {
		draft, err := build()
		if err != nil {
			return err
		}
		msg, err = v.store.BeginSend(draft)
		if err != nil {
			return err
		}
		v.c.norm.Track(messages.Change{Kind: messages.ChangeInserted, Message: msg})
		v.c.throttle.Reset(v.id)
		v.c.emit(v.id, ChangedMessages|ChangedConversations|v.threadBit(msg))
		v.c.dispatch(msg)
		return nil
	})
	return msg, err
}

// Retry resends a failed message in its original slot.
func (v *View) Retry(id string) (types.Message, error) {
	var msg types.Message
	err := v.c.call(func() error {
		var err error
		msg, err = v.store.Retry(id)
		if err != nil {
			return err
		}
		v.c.emit(v.id, ChangedMessages)
		v.c.dispatch(msg)
		return nil
	})
	return msg, err
}

// Discard drops a failed message.
func (v *View) Discard(id string) error {
	return v.c.call(func() error {
		change, err := v.store.Discard(id)
		if err != nil {
			return err
		}
		v.c.norm.Track(change)
		v.c.emit(v.id, ChangedMessages|v.threadBit(change.Message))
		return nil
	})
}

// Edit replaces the text of one of the user's messages.
func (v *View) Edit(id, content string) error {
	return v.c.call(func() error {
		change, op, err := v.store.Edit(id, v.c.opts.SelfID, content)
		if err != nil {
			v.notice(err)
			return err
		}
		if !change.Changed() {
			return nil
		}
		v.c.norm.Track(change)
		v.c.emit(v.id, ChangedMessages|v.threadBit(change.Message))
		if op != nil {
			v.c.persistOps(v.id, []messages.Op{*op})
		}
		return nil
	})
}

// Delete tombstones one of the user's messages.
func (v *View) Delete(id string) error {
	return v.c.call(func() error {
		change, op, err := v.store.Delete(id, v.c.opts.SelfID)
		if err != nil {
			v.notice(err)
			return err
		}
		v.c.norm.Track(change)
		v.c.emit(v.id, ChangedMessages|v.threadBit(change.Message))
		if op != nil {
			v.c.persistOps(v.id, []messages.Op{*op})
		}
		return nil
	})
}

// React adds the user's reaction unless it is already there.
func (v *View) React(messageID, emoji string) error {
	return v.toggle(messageID, emoji, true)
}

// ToggleReaction flips the user's reaction. A second toggle on the same
// message and emoji before the first settles returns ErrToggleInFlight.
func (v *View) ToggleReaction(messageID, emoji string) error {
	return v.toggle(messageID, emoji, false)
}

func (v *View) toggle(messageID, emoji string, addOnly bool) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return &types.ValidationError{Field: "emoji", Reason: "empty"}
	}
	return v.c.call(func() error {
		msg, ok := v.store.Get(messageID)
		if !ok {
			return fmt.Errorf("react to %s: %w", messageID, types.ErrNotFound)
		}
		if msg.Status != types.StatusSent {
			return &types.ValidationError{Field: "message", Reason: "cannot react before the message is sent"}
		}
		if msg.Deleted {
			return &types.ConflictError{MessageID: msg.ID, Notice: "message was already deleted"}
		}
		self := v.c.opts.SelfID
		if addOnly && v.c.reactions.Has(msg.ID, emoji, self) {
			return nil
		}
		added, err := v.c.reactions.Toggle(msg.ID, emoji, self)
		if err != nil {
			return err
		}
		v.c.emit(v.id, ChangedReactions)
		v.c.persistReaction(v.id, types.ReactionEntry{
			MessageID: msg.ID,
			Emoji:     emoji,
			UserID:    self,
			ReactedAt: v.c.nowMillis(),
		}, added)
		return nil
	})
}

// MarkAsRead marks everything received so far as read.
func (v *View) MarkAsRead() error {
	var marker types.ReadMarker
	var changed bool
	err := v.c.call(func() error {
		now := v.c.nowMillis()
		upTo := v.store.LastActivity()
		read := v.store.MarkRead(upTo, now)
		convChanged := v.c.convs.MarkRead(v.id)
		if len(read) == 0 && !convChanged {
			return nil
		}
		changed = true
		marker = types.ReadMarker{ConversationID: v.id, UserID: v.c.opts.SelfID, UpTo: upTo, ReadAt: now}
		v.c.emit(v.id, ChangedMessages|ChangedConversations)
		return nil
	})
	if err != nil || !changed {
		return err
	}
	v.c.goAsync(func() {
		if err := v.c.opts.Store.MarkRead(v.c.ctx, marker); err != nil {
			v.c.checkExpired(err)
			logger.Warn("mark read failed", "conversation", v.id, "err", err)
		}
	})
	return nil
}

// SetTyping signals that the user is typing. Signals are throttled.
func (v *View) SetTyping() {
	v.c.post(func() {
		if v.closed || !v.c.throttle.Allow(v.id) {
			return
		}
		sig := types.TypingSignal{ConversationID: v.id, UserID: v.c.opts.SelfID, DisplayName: v.c.opts.DisplayName}
		v.c.goAsync(func() {
			if err := v.c.opts.Store.SignalTyping(v.c.ctx, sig); err != nil {
				logger.Debug("typing signal failed", "conversation", v.id, "err", err)
			}
		})
	})
}

// Search filters the loaded messages.
func (v *View) Search(f search.Filter, opts search.Options) ([]types.Message, error) {
	var out []types.Message
	err := v.c.call(func() error {
		var err error
		out, err = search.Apply(v.store.Snapshot(), f, opts)
		return err
	})
	return out, err
}

// SearchDebounced runs Search after the filter has been stable for the
// debounce delay and hands the result to fn. Only the last call wins.
func (v *View) SearchDebounced(f search.Filter, opts search.Options, fn func([]types.Message, error)) {
	v.debounce.Trigger(func() {
		fn(v.Search(f, opts))
	})
}

// LoadOlder fetches the page of history before the oldest loaded message and
// returns how many records were prepended.
func (v *View) LoadOlder(ctx context.Context) (int, error) {
	var q types.MessageQuery
	var skip bool
	err := v.c.call(func() error {
		if v.closed {
			return ErrClosed
		}
		if v.older || (v.synced && !v.store.HasMore()) {
			skip = true
			return nil
		}
		v.older = true
		q = types.MessageQuery{Limit: v.c.opts.TailSize, IncludeDeleted: true}
		if cursor, ok := v.store.OldestCursor(); ok {
			q.Before = &cursor
		}
		return nil
	})
	if err != nil || skip {
		return 0, err
	}

	page, ferr := v.c.opts.Store.FetchMessages(ctx, v.id, q)
	var inserted []types.Message
	err = v.c.call(func() error {
		v.older = false
		if ferr != nil {
			return ferr
		}
		for i := range page.Messages {
			page.Messages[i] = v.c.norm.Open(page.Messages[i])
		}
		inserted = v.store.Prepend(page.Messages, page.HasMore)
		for _, msg := range inserted {
			v.c.norm.Track(messages.Change{Kind: messages.ChangeInserted, Message: msg})
		}
		if len(inserted) > 0 {
			v.c.emit(v.id, ChangedMessages|ChangedThreads)
		}
		return nil
	})
	if err != nil {
		v.c.checkExpired(err)
		return 0, fmt.Errorf("load older: %w", err)
	}
	if len(inserted) > 0 {
		v.c.refreshReactions(ctx, v.id, ids(inserted))
	}
	return len(inserted), nil
}

// OpenThread starts tracking replies to parentID and loads the first page.
func (v *View) OpenThread(ctx context.Context, parentID string) (int, error) {
	if err := v.c.call(func() error {
		if _, ok := v.store.Get(parentID); !ok {
			return fmt.Errorf("open thread %s: %w", parentID, types.ErrNotFound)
		}
		v.c.threads.Open(parentID)
		return nil
	}); err != nil {
		return 0, err
	}
	return v.LoadReplies(ctx, parentID)
}

// LoadReplies fetches the next older page of an open thread.
func (v *View) LoadReplies(ctx context.Context, parentID string) (int, error) {
	var q types.MessageQuery
	var ok bool
	err := v.c.call(func() error {
		th, open := v.c.threads.Thread(parentID)
		if !open {
			return fmt.Errorf("thread %s is not open", parentID)
		}
		q, ok = th.NextPage(threads.DefaultPageSize)
		return nil
	})
	if err != nil || !ok {
		return 0, err
	}

	page, ferr := v.c.opts.Store.FetchReplies(ctx, parentID, q)
	var n int
	err = v.c.call(func() error {
		th, open := v.c.threads.Thread(parentID)
		if !open {
			return nil
		}
		if ferr != nil {
			th.FailPage()
			return ferr
		}
		before := th.Len()
		for i := range page.Messages {
			page.Messages[i] = v.c.norm.Open(page.Messages[i])
		}
		th.AppendPage(page.Messages, page.HasMore)
		n = th.Len() - before
		v.c.emit(v.id, ChangedThreads)
		return nil
	})
	if err != nil {
		v.c.checkExpired(err)
		return 0, fmt.Errorf("load replies: %w", err)
	}
	return n, nil
}

// CloseThread stops tracking an open thread.
func (v *View) CloseThread(parentID string) {
	v.c.post(func() { v.c.threads.Close(parentID) })
}

// Messages returns the conversation log in display order.
func (v *View) Messages() []types.Message {
	var out []types.Message
	_ = v.c.call(func() error {
		out = v.store.Snapshot()
		return nil
	})
	return out
}

// Message returns one record by temp, server or correlation id.
func (v *View) Message(id string) (types.Message, bool) {
	var msg types.Message
	var ok bool
	_ = v.c.call(func() error {
		msg, ok = v.store.Get(id)
		return nil
	})
	return msg, ok
}

// Err returns why a failed message failed.
func (v *View) Err(id string) error {
	var err error
	_ = v.c.call(func() error {
		err = v.store.Err(id)
		return nil
	})
	return err
}

// HasMore reports whether older history remains on the service.
func (v *View) HasMore() bool {
	var more bool
	_ = v.c.call(func() error {
		more = v.store.HasMore()
		return nil
	})
	return more
}

// Reactions returns the reaction aggregates of a message.
func (v *View) Reactions(messageID string) []types.ReactionAggregate {
	var out []types.ReactionAggregate
	_ = v.c.call(func() error {
		if msg, ok := v.store.Get(messageID); ok {
			messageID = msg.ID
		}
		out = v.c.reactions.Aggregates(messageID)
		return nil
	})
	return out
}

// ReplyCount returns the live reply count of a parent message.
func (v *View) ReplyCount(parentID string) int {
	var n int
	_ = v.c.call(func() error {
		n = v.c.threads.ReplyCount(parentID)
		return nil
	})
	return n
}

// ThreadReplies returns the loaded replies of an open thread.
func (v *View) ThreadReplies(parentID string) []types.Message {
	var out []types.Message
	_ = v.c.call(func() error {
		if th, ok := v.c.threads.Thread(parentID); ok {
			out = th.Replies()
		}
		return nil
	})
	return out
}

// TypingUsers returns who else is typing.
func (v *View) TypingUsers() []types.TypingState {
	var out []types.TypingState
	_ = v.c.call(func() error {
		out = v.c.typing.TypingUsers(v.id, v.c.opts.SelfID)
		return nil
	})
	return out
}

// Connection returns the subscription state.
func (v *View) Connection() types.ConnectionState {
	state := types.ConnClosed
	_ = v.c.call(func() error {
		state = v.monitor.State()
		return nil
	})
	return state
}

func (v *View) threadBit(msg types.Message) ChangeKind {
	if msg.IsReply() {
		return ChangedThreads
	}
	return 0
}

func (v *View) notice(err error) {
	var conflict *types.ConflictError
	if errors.As(err, &conflict) {
		v.c.emitNotice(v.id, 0, conflict.Notice)
	}
}

func ids(msgs []types.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.ID)
	}
	return out
}
