// Package redisfeed fans conversation events out over Redis pub/sub so
// clients on other hosts see writes to a shared workspace.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix    = "murmur:conversation:"
	defaultHeartbeat = 5 * time.Second
)

// Feed publishes and subscribes to per-conversation Redis channels.
type Feed struct {
	client    *redis.Client
	prefix    string
	heartbeat time.Duration
}

var _ service.Channel = (*Feed)(nil)

// Options configures a Feed.
type Options struct {
	Prefix    string
	Heartbeat time.Duration
}

// New wraps an existing client.
func New(client *redis.Client, opts Options) *Feed {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	return &Feed{client: client, prefix: opts.Prefix, heartbeat: opts.Heartbeat}
}

// Dial connects to the server named by a redis:// URL.
func Dial(ctx context.Context, rawURL string, opts Options) (*Feed, error) {
	ro, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &types.TransientNetworkError{Op: "redis ping", Err: err}
	}
	return New(client, opts), nil
}

// Close releases the client.
func (f *Feed) Close() error { return f.client.Close() }

func (f *Feed) channel(conversationID string) string {
	return f.prefix + conversationID
}

// Publish sends an event to everyone subscribed to its conversation.
func (f *Feed) Publish(ctx context.Context, ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.channel(ev.ConversationID), data).Err(); err != nil {
		return &types.TransientNetworkError{Op: "publish", Err: err}
	}
	return nil
}

type subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
		s.wg.Wait()
	})
	return err
}

// Subscribe listens on the conversation's channel. A successful ping on the
// subscription connection counts as a heartbeat; a failed one reports the
// feed disconnected until a later ping succeeds.
func (f *Feed) Subscribe(ctx context.Context, conversationID string, h service.Handler) (service.Subscription, error) {
	pubsub := f.client.Subscribe(ctx, f.channel(conversationID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, &types.TransientNetworkError{Op: "subscribe", Err: err}
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{pubsub: pubsub, cancel: cancel}
	h.OnStatus(types.ConnConnected, nil)

	messages := pubsub.Channel(redis.WithChannelSize(256))
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		f.loop(ctx, conversationID, pubsub, messages, h)
	}()
	return sub, nil
}

func (f *Feed) loop(ctx context.Context, conversationID string, pubsub *redis.PubSub, messages <-chan *redis.Message, h service.Handler) {
	ticker := time.NewTicker(f.heartbeat)
	defer ticker.Stop()
	healthy := true

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			ev, err := decode(msg.Payload)
			if err != nil {
				logger.Warn("dropping malformed redis event", "conversation", conversationID, "err", err)
				continue
			}
			if ev.ConversationID != conversationID {
				continue
			}
			h.OnEvent(ev)
		case <-ticker.C:
			if err := pubsub.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if healthy {
					logger.Warn("redis feed ping failed", "conversation", conversationID, "err", err)
					h.OnStatus(types.ConnDisconnected, &types.TransientNetworkError{Op: "ping", Err: err})
					healthy = false
				}
				continue
			}
			if !healthy {
				h.OnStatus(types.ConnConnected, nil)
				healthy = true
			}
			h.OnEvent(types.Heartbeat(conversationID, time.Now().UnixMilli()))
		}
	}
}

func decode(payload string) (types.Event, error) {
	var ev types.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return types.Event{}, err
	}
	return ev, nil
}
