package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/messages"
	"github.com/adamavenir/murmur/internal/types"
)

const maxRetryDelay = 5 * time.Second

// dispatch persists a pending record. It runs on the loop; the network call
// does not. Sends use the client context so closing a view does not cancel
// them.
func (c *Client) dispatch(msg types.Message) {
	sealed, err := c.sealFor(msg)
	if err != nil {
		c.onSent(msg, types.Message{}, err, 0)
		return
	}
	started := c.opts.Now()
	c.goAsync(func() {
		var canonical types.Message
		err := c.withRetry(c.ctx, "send", func(ctx context.Context) error {
			var err error
			canonical, err = c.opts.Store.SendMessage(ctx, sealed)
			return err
		})
		c.post(func() { c.onSent(msg, canonical, err, c.opts.Now().Sub(started)) })
	})
}

func (c *Client) onSent(local, canonical types.Message, err error, took time.Duration) {
	store := c.convs.Messages(local.ConversationID)
	if err != nil {
		c.opts.Metrics.SendFailures.WithLabelValues(failureKind(err)).Inc()
		logger.Warn("send failed", "conversation", local.ConversationID, "message", local.ID, "err", err)
		c.checkExpired(err)
		change, ferr := store.FailSend(local.ID, err)
		if ferr != nil {
			return
		}
		c.norm.Track(change)
		c.emit(local.ConversationID, ChangedMessages)
		return
	}
	c.opts.Metrics.SendDuration.Observe(took.Seconds())
	canonical = c.norm.Open(canonical)
	change, rerr := store.ResolveSend(local.ID, canonical)
	if rerr != nil {
		// Discarded or removed while in flight.
		logger.Debug("resolve send", "message", local.ID, "err", rerr)
		return
	}
	if !change.Changed() {
		return
	}
	c.norm.Track(change)
	c.emit(local.ConversationID, ChangedMessages|ChangedConversations)
	if len(change.Queued) > 0 {
		c.persistOps(local.ConversationID, change.Queued)
	}
}

// persistOps sends edits and deletes for one message in order.
func (c *Client) persistOps(conversationID string, ops []messages.Op) {
	edits := make([]types.Message, len(ops))
	for i, op := range ops {
		if op.Kind != messages.OpEdit {
			continue
		}
		now := c.nowMillis()
		edit := types.Message{
			ID:             op.MessageID,
			ConversationID: conversationID,
			SenderID:       c.opts.SelfID,
			Body:           op.Body,
			EditedAt:       &now,
		}
		sealed, err := c.sealFor(edit)
		if err != nil {
			c.settleOp(conversationID, op, types.Message{}, err)
			ops[i].Kind = ""
			continue
		}
		edits[i] = sealed
	}
	c.goAsync(func() {
		for i, op := range ops {
			var canonical types.Message
			var err error
			switch op.Kind {
			case messages.OpEdit:
				err = c.withRetry(c.ctx, "edit", func(ctx context.Context) error {
					var err error
					canonical, err = c.opts.Store.EditMessage(ctx, edits[i])
					return err
				})
			case messages.OpDelete:
				err = c.withRetry(c.ctx, "delete", func(ctx context.Context) error {
					var err error
					canonical, err = c.opts.Store.DeleteMessage(ctx, op.MessageID, c.opts.SelfID)
					return err
				})
			default:
				continue
			}
			if !c.post(func() { c.settleOp(conversationID, op, canonical, err) }) {
				return
			}
		}
	})
}

func (c *Client) settleOp(conversationID string, op messages.Op, canonical types.Message, err error) {
	store := c.convs.Messages(conversationID)
	var change messages.Change
	switch op.Kind {
	case messages.OpEdit:
		if err != nil {
			change = store.RevertEdit(op.MessageID)
			break
		}
		change = store.ConfirmEdit(c.norm.Open(canonical))
	case messages.OpDelete:
		if err != nil && !types.IsConflict(err) {
			change = store.RevertDelete(op.MessageID)
			break
		}
		store.ConfirmDelete(op.MessageID)
	}
	if err != nil {
		c.checkExpired(err)
		var conflict *types.ConflictError
		if errors.As(err, &conflict) {
			c.emitNotice(conversationID, 0, conflict.Notice)
		} else {
			logger.Warn("persist failed", "op", op.Kind, "message", op.MessageID, "err", err)
			c.emitNotice(conversationID, 0, fmt.Sprintf("could not %s message", op.Kind))
		}
	}
	if change.Changed() {
		c.norm.Track(change)
		c.emit(conversationID, ChangedMessages)
	}
}

// persistReaction writes a toggled reaction and settles the toggle.
func (c *Client) persistReaction(conversationID string, r types.ReactionEntry, added bool) {
	c.goAsync(func() {
		err := c.withRetry(c.ctx, "react", func(ctx context.Context) error {
			if added {
				return c.opts.Store.AddReaction(ctx, r)
			}
			return c.opts.Store.RemoveReaction(ctx, r)
		})
		c.post(func() {
			if err != nil {
				logger.Warn("reaction failed", "message", r.MessageID, "emoji", r.Emoji, "err", err)
				c.checkExpired(err)
			}
			if c.reactions.Settle(r.MessageID, r.Emoji, err) {
				c.emitNotice(conversationID, ChangedReactions, "could not update reaction")
			}
		})
	})
}

// sealFor encrypts a record bound for an encrypted conversation. Must run on
// the loop.
func (c *Client) sealFor(msg types.Message) (types.Message, error) {
	conv, ok := c.convs.Get(msg.ConversationID)
	if !ok || !conv.Encrypted {
		return msg, nil
	}
	if c.opts.Sealer == nil {
		return types.Message{}, &types.ValidationError{Field: "conversation", Reason: "encrypted conversation but no keys loaded"}
	}
	sealed, err := c.opts.Sealer.Seal(msg)
	if err != nil {
		return types.Message{}, fmt.Errorf("seal message: %w", err)
	}
	return sealed, nil
}

// withRetry retries transient failures with exponential backoff.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := c.opts.RetryBase
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !types.IsTransient(err) || attempt >= c.opts.SendRetries {
			return err
		}
		logger.Debug("retrying", "op", op, "attempt", attempt, "delay", delay, "err", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func failureKind(err error) string {
	var validation *types.ValidationError
	var permission *types.PermissionError
	switch {
	case types.IsTransient(err):
		return "transient"
	case errors.Is(err, types.ErrSessionExpired):
		return "session"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &permission):
		return "permission"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "other"
}
