package db

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
	"github.com/fsnotify/fsnotify"
)

var feedEntities = map[types.EventEntity]bool{
	types.EntityMessage:      true,
	types.EntityReaction:     true,
	types.EntityConversation: true,
	types.EntityTyping:       true,
}

type feedSub struct {
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	once    sync.Once
}

// Close stops the feed. It is safe to call more than once.
func (s *feedSub) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.watcher.Close()
		s.wg.Wait()
	})
	return err
}

// Subscribe follows the workspace event log for one conversation. Writes by
// any process sharing the workspace are delivered; a heartbeat is sent every
// Heartbeat interval while the log stays readable.
func (l *Local) Subscribe(ctx context.Context, conversationID string, h service.Handler) (service.Subscription, error) {
	if err := os.MkdirAll(l.ws.Dir, 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(l.ws.Dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &feedSub{cancel: cancel, watcher: watcher}
	tail := newTailReader(l.ws.EventsPath())
	h.OnStatus(types.ConnConnected, nil)

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		l.feedLoop(ctx, conversationID, watcher, tail, h)
	}()
	return sub, nil
}

func (l *Local) feedLoop(ctx context.Context, conversationID string, watcher *fsnotify.Watcher, tail *tailReader, h service.Handler) {
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()
	logName := filepath.Base(l.ws.EventsPath())
	healthy := true

	drain := func() bool {
		events, err := tail.next()
		if err != nil {
			if healthy {
				logger.Warn("event feed read failed", "conversation", conversationID, "err", err)
				h.OnStatus(types.ConnDisconnected, err)
				healthy = false
			}
			return false
		}
		if !healthy {
			h.OnStatus(types.ConnConnected, nil)
			healthy = true
		}
		for _, ev := range events {
			if ev.ConversationID != conversationID || !feedEntities[ev.Entity] {
				continue
			}
			if ctx.Err() != nil {
				return false
			}
			h.OnEvent(ev)
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != logName {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				drain()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("event feed watcher error", "conversation", conversationID, "err", err)
			if healthy {
				h.OnStatus(types.ConnDisconnected, err)
				healthy = false
			}
		case <-ticker.C:
			// Polling covers filesystems that drop notifications.
			if drain() {
				h.OnEvent(types.Heartbeat(conversationID, l.nowMillis()))
			}
		}
	}
}
