// Package engine is the boundary between the UI and the sync core. A Client
// owns every store and mutates them on a single run-to-completion loop:
// user actions, network completions, push callbacks and timers are all
// closures executed one at a time on that loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adamavenir/murmur/internal/conversations"
	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/metrics"
	"github.com/adamavenir/murmur/internal/reactions"
	"github.com/adamavenir/murmur/internal/realtime"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/threads"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/adamavenir/murmur/internal/typing"
)

// ErrClosed is returned by calls on a closed client or view.
var ErrClosed = errors.New("engine closed")

// Sealer encrypts outgoing messages and opens incoming ones for
// conversations marked encrypted.
type Sealer interface {
	Seal(msg types.Message) (types.Message, error)
	Open(msg types.Message) (types.Message, error)
}

// Options configures a Client.
type Options struct {
	SelfID      string
	DisplayName string

	Store   service.Store
	Channel service.Channel
	Files   service.FileStore
	Streams service.StreamSource
	Sealer  Sealer
	Metrics *metrics.Metrics

	Now              func() time.Time
	TypingTTL        time.Duration
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration
	TailSize         int
	SendRetries      int
	RetryBase        time.Duration

	// OnSessionExpired is called once, off the loop, when the service
	// reports an expired session.
	OnSessionExpired func(error)
}

func (o *Options) defaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = typing.DefaultTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 500 * time.Millisecond
	}
	if o.HeartbeatTimeout == 0 {
		o.HeartbeatTimeout = realtime.DefaultHeartbeatTimeout
	}
	if o.TailSize <= 0 {
		o.TailSize = realtime.DefaultTailSize
	}
	if o.SendRetries <= 0 {
		o.SendRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 250 * time.Millisecond
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(nil)
	}
	if o.DisplayName == "" {
		o.DisplayName = o.SelfID
	}
}

// Client is one signed-in user's session.
type Client struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	ops    chan func()
	done   chan struct{}
	closed sync.Once

	asyncMu  sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	convs     *conversations.Store
	reactions *reactions.Aggregator
	threads   *threads.Index
	typing    *typing.Tracker
	throttle  *typing.Throttle
	norm      *realtime.Normalizer
	views     map[string]*View

	changesMu sync.Mutex
	pending   map[string]*Change
	order     []string
	notify    chan struct{}

	expired sync.Once
}

// New starts a client loop.
func New(opts Options) (*Client, error) {
	if opts.SelfID == "" {
		return nil, &types.ValidationError{Field: "user", Reason: "no user id"}
	}
	if opts.Store == nil || opts.Channel == nil {
		return nil, fmt.Errorf("engine needs a store and a channel")
	}
	opts.defaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		ops:       make(chan func(), 256),
		done:      make(chan struct{}),
		convs:     conversations.New(opts.SelfID, opts.Now),
		reactions: reactions.New(opts.SelfID),
		threads:   threads.NewIndex(),
		typing:    typing.NewTracker(opts.TypingTTL, opts.Now),
		throttle:  typing.NewThrottle(opts.TypingTTL/3, opts.Now),
		views:     make(map[string]*View),
		pending:   make(map[string]*Change),
		notify:    make(chan struct{}, 1),
	}
	var opener realtime.Opener
	if opts.Sealer != nil {
		opener = opts.Sealer
	}
	c.norm = realtime.New(realtime.Config{
		SelfID:        opts.SelfID,
		Conversations: c.convs,
		Reactions:     c.reactions,
		Threads:       c.threads,
		Typing:        c.typing,
		Metrics:       opts.Metrics,
		Opener:        opener,
	})
	go c.run()
	return c, nil
}

// SelfID returns the signed-in user.
func (c *Client) SelfID() string { return c.opts.SelfID }

func (c *Client) run() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-ticker.C:
			c.tick()
		case <-c.done:
			return
		}
	}
}

// post queues fn on the loop. It reports false once the client is closed.
func (c *Client) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.ops <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and waits for it. It must not be used from the
// loop itself.
func (c *Client) call(fn func() error) error {
	errc := make(chan error, 1)
	if !c.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// goAsync runs fn off the loop, tracked so Close can wait for it. Once
// Close has started waiting, fn is dropped.
func (c *Client) goAsync(fn func()) {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	if c.stopping {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Client) tick() {
	if evicted := c.typing.Sweep(); len(evicted) > 0 {
		for _, conv := range evicted {
			c.emit(conv, ChangedTyping)
		}
	}
	for conv, v := range c.views {
		if v.monitor.Check() {
			logger.Warn("subscription went silent", "conversation", conv, "timeout", c.opts.HeartbeatTimeout)
			c.emit(conv, ChangedConnection)
		}
	}
}

// Close stops the loop and every subscription. In-flight network calls are
// cancelled.
func (c *Client) Close() error {
	c.closed.Do(func() {
		subs := make(chan []service.Subscription, 1)
		if !c.post(func() {
			var all []service.Subscription
			for conv, v := range c.views {
				v.monitor.Close()
				if v.sub != nil {
					all = append(all, v.sub)
				}
				delete(c.views, conv)
			}
			subs <- all
		}) {
			subs <- nil
		}
		for _, sub := range <-subs {
			if err := sub.Close(); err != nil {
				logger.Debug("close subscription", "err", err)
			}
		}
		c.cancel()
		close(c.done)
		c.asyncMu.Lock()
		c.stopping = true
		c.asyncMu.Unlock()
		c.wg.Wait()
	})
	return nil
}

func (c *Client) sessionExpired(err error) {
	c.expired.Do(func() {
		logger.Error("session expired", "err", err)
		if c.opts.OnSessionExpired != nil {
			go c.opts.OnSessionExpired(err)
		}
	})
}

// LoadConversations fetches the conversation list.
func (c *Client) LoadConversations(ctx context.Context) ([]types.Conversation, error) {
	list, err := c.opts.Store.ListConversations(ctx, c.opts.SelfID)
	if err != nil {
		c.checkExpired(err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var out []types.Conversation
	err = c.call(func() error {
		for _, conv := range list {
			if c.convs.Upsert(conv) {
				c.emit(conv.ID, ChangedConversations)
			}
		}
		out = c.convs.Ordered(false)
		return nil
	})
	return out, err
}

// Conversations returns the conversation list by recent activity.
func (c *Client) Conversations(includeArchived bool) []types.Conversation {
	var out []types.Conversation
	_ = c.call(func() error {
		out = c.convs.Ordered(includeArchived)
		return nil
	})
	return out
}

// StartConversation returns the conversation with peer, creating it on the
// service when it does not exist yet.
func (c *Client) StartConversation(ctx context.Context, peer string, listingID *string) (types.Conversation, error) {
	if peer == "" || peer == c.opts.SelfID {
		return types.Conversation{}, &types.ValidationError{Field: "peer", Reason: "needs another participant"}
	}
	var existing types.Conversation
	var found bool
	if err := c.call(func() error {
		existing, found = c.convs.Find(c.opts.SelfID, peer)
		return nil
	}); err != nil {
		return types.Conversation{}, err
	}
	if found && !existing.Tombstoned {
		return existing, nil
	}
	conv, err := c.opts.Store.EnsureConversation(ctx, c.opts.SelfID, peer, listingID)
	if err != nil {
		c.checkExpired(err)
		return types.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}
	err = c.call(func() error {
		c.convs.Upsert(conv)
		c.emit(conv.ID, ChangedConversations)
		return nil
	})
	return conv, err
}

// Archive sets a conversation's archived flag.
func (c *Client) Archive(ctx context.Context, conversationID string, archived bool) error {
	if err := c.call(func() error { return c.convs.Archive(conversationID, archived) }); err != nil {
		return err
	}
	if err := c.opts.Store.ArchiveConversation(ctx, conversationID, archived); err != nil {
		c.checkExpired(err)
		_ = c.call(func() error { return c.convs.Archive(conversationID, !archived) })
		return fmt.Errorf("archive: %w", err)
	}
	c.post(func() { c.emit(conversationID, ChangedConversations) })
	return nil
}

// TotalUnread sums unread counts over visible conversations.
func (c *Client) TotalUnread() int {
	var n int
	_ = c.call(func() error {
		n = c.convs.TotalUnread()
		return nil
	})
	return n
}

func (c *Client) checkExpired(err error) {
	if errors.Is(err, types.ErrSessionExpired) {
		c.sessionExpired(err)
	}
}

func (c *Client) nowMillis() int64 { return c.opts.Now().UnixMilli() }
