package engine

import (
	"context"
	"errors"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/realtime"
	"github.com/adamavenir/murmur/internal/service"
	"github.com/adamavenir/murmur/internal/types"
)

// subscribe opens the push feed off the loop. Callbacks from a feed that has
// since been replaced are dropped by generation.
func (v *View) subscribe() {
	v.gen++
	gen := v.gen
	ctx, cancel := context.WithCancel(v.c.ctx)
	v.subCancel = cancel

	h := service.HandlerFuncs{
		Event: func(ev types.Event) {
			v.c.post(func() { v.onEvent(gen, ev) })
		},
		Status: func(state types.ConnectionState, err error) {
			v.c.post(func() { v.onStatus(gen, state, err) })
		},
	}
	v.c.goAsync(func() {
		sub, err := v.c.opts.Channel.Subscribe(ctx, v.id, h)
		if !v.c.post(func() { v.attach(gen, sub, err) }) && sub != nil {
			_ = sub.Close()
		}
	})
}

func (v *View) attach(gen int, sub service.Subscription, err error) {
	if err != nil {
		logger.Warn("subscribe failed", "conversation", v.id, "err", err)
		v.c.checkExpired(err)
		if !v.closed && gen == v.gen {
			v.monitor.Status(types.ConnDisconnected)
			v.c.emit(v.id, ChangedConnection)
		}
		return
	}
	if v.closed || gen != v.gen {
		v.c.goAsync(func() { _ = sub.Close() })
		return
	}
	v.sub = sub
}

func (v *View) onEvent(gen int, ev types.Event) {
	if v.closed || gen != v.gen {
		return
	}
	if v.monitor.Seen() {
		v.c.emit(v.id, ChangedConnection)
		v.startSync()
	}
	out, err := v.c.norm.Apply(ev)
	if err != nil {
		logger.Warn("dropped event", "conversation", v.id, "op", ev.Op, "entity", ev.Entity, "err", err)
		return
	}
	v.c.applyOutcome(out)
}

func (v *View) onStatus(gen int, state types.ConnectionState, err error) {
	if v.closed || gen != v.gen {
		return
	}
	if err != nil {
		logger.Warn("subscription status", "conversation", v.id, "state", state, "err", err)
		v.c.checkExpired(err)
	}
	prev := v.monitor.State()
	if v.monitor.Status(state) {
		v.startSync()
	}
	if v.monitor.State() != prev {
		v.c.emit(v.id, ChangedConnection)
	}
}

// applyOutcome turns a normalizer outcome into notifications and persists
// any ops released by an echo that resolved a pending send.
func (c *Client) applyOutcome(out realtime.Outcome) {
	if out.Empty() {
		return
	}
	var what ChangeKind
	if len(out.Changes) > 0 {
		what |= ChangedMessages | ChangedConversations
	}
	for _, change := range out.Changes {
		if change.Message.IsReply() {
			what |= ChangedThreads
		}
		if len(change.Queued) > 0 {
			c.persistOps(out.ConversationID, change.Queued)
		}
	}
	if len(out.ReactionsOf) > 0 {
		what |= ChangedReactions
	}
	if out.Typing {
		what |= ChangedTyping
	}
	if out.Conversation {
		what |= ChangedConversations
	}
	c.emit(out.ConversationID, what)
}

// startSync fetches the recent tail and reconciles it against the store.
// A sync requested while one runs is queued behind it.
func (v *View) startSync() {
	if v.closed {
		return
	}
	if v.syncing {
		v.resync = true
		return
	}
	v.syncing = true
	v.c.goAsync(func() {
		err := v.sync(v.c.ctx)
		v.c.post(func() {
			v.syncing = false
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("sync failed", "conversation", v.id, "err", err)
				v.c.checkExpired(err)
			}
			if v.resync {
				v.resync = false
				v.startSync()
			}
		})
	})
}

func (v *View) sync(ctx context.Context) error {
	c := v.c
	tail := realtime.NewTailSync(v.id, c.opts.TailSize, 0)
	for {
		page, err := c.opts.Store.FetchMessages(ctx, v.id, tail.Query())
		if err != nil {
			return err
		}
		var done bool
		if err := c.call(func() error {
			tail.Stamp(page.FetchedAt)
			done = tail.Add(v.store, page.Messages, page.HasMore)
			return nil
		}); err != nil {
			return err
		}
		if done {
			break
		}
	}

	var confirmed []string
	if err := c.call(func() error {
		w := tail.Window()
		out, res := c.norm.Reconcile(v.id, w)
		if !v.synced || w.Complete {
			v.store.SetHasMore(!w.Complete)
		}
		v.synced = true
		c.applyOutcome(out)
		if res.Filled > 0 || res.Removed > 0 {
			c.emit(v.id, ChangedMessages)
		}
		for _, msg := range v.store.Snapshot() {
			if msg.Status == types.StatusSent && !msg.Deleted {
				confirmed = append(confirmed, msg.ID)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	c.refreshReactions(ctx, v.id, confirmed)
	summaries, err := c.opts.Store.ThreadSummaries(ctx, v.id)
	if err != nil {
		return err
	}
	return c.call(func() error {
		for _, s := range summaries {
			c.threads.SetCount(s)
		}
		if len(summaries) > 0 {
			c.emit(v.id, ChangedThreads)
		}
		return nil
	})
}

// refreshReactions replaces local aggregates with the service's snapshot.
func (c *Client) refreshReactions(ctx context.Context, conversationID string, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	snapshot, err := c.opts.Store.ReactionSnapshot(ctx, messageIDs)
	if err != nil {
		logger.Warn("reaction snapshot failed", "conversation", conversationID, "err", err)
		c.checkExpired(err)
		return
	}
	if snapshot == nil {
		snapshot = make(map[string][]types.ReactionAggregate)
	}
	c.post(func() {
		// Messages with no reactions are absent from the snapshot.
		for _, id := range messageIDs {
			if _, ok := snapshot[id]; !ok {
				snapshot[id] = nil
			}
		}
		if len(c.norm.ApplyReactionSnapshot(snapshot)) > 0 {
			c.emit(conversationID, ChangedReactions)
		}
	})
}
