// Package wsfeed carries conversation events over websockets. Feed is the
// client side and implements service.Channel; Server relays any
// service.Channel to websocket clients.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	maxBackoff     = 30 * time.Second
)

// Feed subscribes to conversations on a websocket server.
type Feed struct {
	// URL is the server endpoint, e.g. ws://host:7420/feed.
	URL    string
	Header http.Header
	Dialer *websocket.Dialer

	// PingPeriod and PongWait bound how quickly a dead connection is noticed.
	PingPeriod time.Duration
	PongWait   time.Duration
	// RetryBase is the first reconnect delay; it doubles up to 30s.
	RetryBase time.Duration
}

var _ service.Channel = (*Feed)(nil)

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Subscribe connects in the background and keeps reconnecting until the
// subscription is closed. Connection changes are reported through h.
func (f *Feed) Subscribe(ctx context.Context, conversationID string, h service.Handler) (service.Subscription, error) {
	endpoint, err := f.endpoint(conversationID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		f.run(ctx, endpoint, conversationID, h)
	}()
	return sub, nil
}

func (f *Feed) endpoint(conversationID string) (string, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return "", fmt.Errorf("parse push url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("push url %q: unsupported scheme", f.URL)
	}
	q := u.Query()
	q.Set("conversation", conversationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *Feed) run(ctx context.Context, endpoint, conversationID string, h service.Handler) {
	dialer := f.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	base := f.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := base

	for {
		conn, _, err := dialer.DialContext(ctx, endpoint, f.Header)
		if err == nil {
			delay = base
			h.OnStatus(types.ConnConnected, nil)
			err = f.pump(ctx, conn, conversationID, h)
		}
		if ctx.Err() != nil {
			return
		}
		logger.Warn("push feed disconnected", "conversation", conversationID, "err", err)
		h.OnStatus(types.ConnDisconnected, &types.TransientNetworkError{Op: "subscribe", Err: err})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

// pump reads events until the connection fails or ctx ends. Every pong
// counts as a heartbeat.
func (f *Feed) pump(ctx context.Context, conn *websocket.Conn, conversationID string, h service.Handler) error {
	wait := f.PongWait
	if wait <= 0 {
		wait = pongWait
	}
	period := f.PingPeriod
	if period <= 0 || period >= wait {
		period = (wait * 9) / 10
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck
		h.OnEvent(types.Heartbeat(conversationID, time.Now().UnixMilli()))
		return nil
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait)) //nolint:errcheck
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()
	defer func() {
		close(stop)
		conn.Close()
		wg.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck
		var ev types.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("dropping malformed push event", "conversation", conversationID, "err", err)
			continue
		}
		if ev.ConversationID != conversationID {
			continue
		}
		h.OnEvent(ev)
	}
}
