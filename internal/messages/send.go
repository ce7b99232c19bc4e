package messages

import (
	"fmt"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/types"
)

// OpKind names a follow-up mutation on an existing message.
type OpKind string

const (
	OpEdit   OpKind = "edit"
	OpDelete OpKind = "delete"
)

// Op is an edit or delete to persist.
type Op struct {
	Kind      OpKind
	MessageID string
	Body      types.Body
}

// ChangeKind describes what a store operation did to a record.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeInserted
	ChangeUpdated
	ChangeResolved
	ChangeTombstoned
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeResolved:
		return "resolved"
	case ChangeTombstoned:
		return "tombstoned"
	case ChangeRemoved:
		return "removed"
	}
	return "none"
}

// Change reports the effect of one operation on one record.
type Change struct {
	Kind    ChangeKind
	Message types.Message
	// TempID is set when a temp record was resolved to its server id.
	TempID string
	// Queued holds ops released by a resolved send, in submission order.
	Queued []Op
}

// Changed reports whether the record was touched.
func (c Change) Changed() bool { return c.Kind != ChangeNone }

// BeginSend validates the draft and appends a pending record with a temp id
// and a fresh correlation key. The caller persists the returned record.
func (s *Store) BeginSend(draft types.Draft) (types.Message, error) {
	if err := validateBody(draft.Body); err != nil {
		return types.Message{}, err
	}
	tempID, err := core.NewTempID()
	if err != nil {
		return types.Message{}, err
	}
	msg := types.Message{
		ID:             tempID,
		ClientID:       core.NewCorrelationKey(),
		ConversationID: s.conversationID,
		SenderID:       s.selfID,
		Body:           draft.Body,
		CreatedAt:      s.nowMillis(),
		Status:         types.StatusPending,
		ReplyTo:        draft.ReplyTo,
	}
	sl := s.appendSlot(msg)
	return sl.msg, nil
}

// ResolveSend replaces the temp record with the canonical one at the same
// slot. If the echo already resolved it, nothing changes.
func (s *Store) ResolveSend(tempID string, canonical types.Message) (Change, error) {
	sl := s.lookup(tempID)
	if sl == nil {
		return Change{}, fmt.Errorf("resolve %s: %w", tempID, types.ErrNotFound)
	}
	if sl.msg.Status == types.StatusSent {
		return Change{Message: sl.msg}, nil
	}
	return s.resolve(sl, canonical), nil
}

func (s *Store) resolve(sl *slot, canonical types.Message) Change {
	if other := s.lookup(canonical.ID); other != nil && other != sl {
		s.removeSlot(other)
	}
	local := sl.msg
	msg := canonical
	msg.Seq = local.Seq
	msg.Status = types.StatusSent
	if msg.ClientID == "" {
		msg.ClientID = local.ClientID
	}
	if msg.ConversationID == "" {
		msg.ConversationID = s.conversationID
	}

	sl.serverBody = canonical.Body
	sl.serverEdited = canonical.EditedAt
	if canonical.EditedAt != nil {
		sl.confirmedEdit = *canonical.EditedAt
	}
	sl.err = nil

	queued := sl.queued
	sl.queued = nil
	for i := range queued {
		queued[i].MessageID = msg.ID
		switch queued[i].Kind {
		case OpEdit:
			sl.pendingEdits++
		case OpDelete:
			sl.pendingDelete = true
		}
	}
	if sl.pendingEdits > 0 {
		msg.Body = local.Body
		msg.EditedAt = local.EditedAt
	}
	if local.Deleted || canonical.Deleted {
		tombstone(&msg)
	}

	sl.msg = msg
	s.byID[msg.ID] = msg.Seq
	if msg.ClientID != "" {
		s.byClient[msg.ClientID] = msg.Seq
	}
	return Change{Kind: ChangeResolved, Message: msg, TempID: sl.tempID, Queued: queued}
}

// FailSend demotes a pending record to failed. Queued edits stay folded into
// the local content; a queued delete discards the record instead.
func (s *Store) FailSend(tempID string, cause error) (Change, error) {
	sl := s.lookup(tempID)
	if sl == nil {
		return Change{}, fmt.Errorf("fail %s: %w", tempID, types.ErrNotFound)
	}
	if sl.msg.Status != types.StatusPending {
		return Change{Message: sl.msg}, nil
	}
	for _, op := range sl.queued {
		if op.Kind == OpDelete {
			s.removeSlot(sl)
			return Change{Kind: ChangeRemoved, Message: sl.msg}, nil
		}
	}
	sl.queued = nil
	sl.msg.Status = types.StatusFailed
	sl.err = cause
	return Change{Kind: ChangeUpdated, Message: sl.msg}, nil
}

// Retry moves a failed record back to pending in the same slot with the same
// correlation key.
func (s *Store) Retry(id string) (types.Message, error) {
	sl := s.lookup(id)
	if sl == nil {
		return types.Message{}, fmt.Errorf("retry %s: %w", id, types.ErrNotFound)
	}
	if sl.msg.Status != types.StatusFailed {
		return types.Message{}, &types.ValidationError{Field: "status", Reason: fmt.Sprintf("message is %s, not failed", sl.msg.Status)}
	}
	sl.msg.Status = types.StatusPending
	sl.err = nil
	return sl.msg, nil
}

// Discard removes a failed record that never reached the service.
func (s *Store) Discard(id string) (Change, error) {
	sl := s.lookup(id)
	if sl == nil {
		return Change{}, fmt.Errorf("discard %s: %w", id, types.ErrNotFound)
	}
	if sl.msg.Status != types.StatusFailed {
		return Change{}, &types.ValidationError{Field: "status", Reason: fmt.Sprintf("message is %s, not failed", sl.msg.Status)}
	}
	s.removeSlot(sl)
	return Change{Kind: ChangeRemoved, Message: sl.msg}, nil
}

func (s *Store) checkOwner(sl *slot, actor string) error {
	if sl.msg.SenderID != actor {
		return &types.PermissionError{MessageID: sl.msg.ID, UserID: actor}
	}
	if sl.msg.Deleted {
		return &types.ConflictError{MessageID: sl.msg.ID, Notice: "message was already deleted"}
	}
	return nil
}

// Edit replaces the message content locally. The returned op is non-nil when
// it must be persisted now; edits on a pending message are queued behind its
// send and edits on a failed message go out with the retry.
func (s *Store) Edit(id, actor, content string) (Change, *Op, error) {
	sl := s.lookup(id)
	if sl == nil {
		return Change{}, nil, fmt.Errorf("edit %s: %w", id, types.ErrNotFound)
	}
	if err := s.checkOwner(sl, actor); err != nil {
		return Change{}, nil, err
	}
	body := types.WithContent(sl.msg.Body, content)
	if err := validateBody(body); err != nil {
		return Change{}, nil, err
	}
	if body == sl.msg.Body {
		return Change{Message: sl.msg}, nil, nil
	}
	now := s.nowMillis()
	sl.msg.Body = body
	sl.msg.EditedAt = &now
	op := Op{Kind: OpEdit, MessageID: sl.msg.ID, Body: body}
	change := Change{Kind: ChangeUpdated, Message: sl.msg}

	switch sl.msg.Status {
	case types.StatusPending:
		sl.queued = append(sl.queued, op)
		return change, nil, nil
	case types.StatusFailed:
		return change, nil, nil
	}
	sl.pendingEdits++
	return change, &op, nil
}

// ConfirmEdit settles a persisted edit with the service's record.
func (s *Store) ConfirmEdit(canonical types.Message) Change {
	sl := s.lookupMessage(canonical)
	if sl == nil {
		return Change{}
	}
	if sl.pendingEdits > 0 {
		sl.pendingEdits--
	}
	return s.merge(sl, canonical)
}

// RevertEdit rolls back a failed edit to the last confirmed content.
func (s *Store) RevertEdit(id string) Change {
	sl := s.lookup(id)
	if sl == nil || sl.pendingEdits == 0 {
		return Change{}
	}
	sl.pendingEdits--
	if sl.pendingEdits > 0 || sl.msg.Deleted {
		return Change{}
	}
	sl.msg.Body = sl.serverBody
	sl.msg.EditedAt = sl.serverEdited
	return Change{Kind: ChangeUpdated, Message: sl.msg}
}

// Delete tombstones the message locally. Deleting a failed record discards
// it; deleting a pending one queues the delete behind the send.
func (s *Store) Delete(id, actor string) (Change, *Op, error) {
	sl := s.lookup(id)
	if sl == nil {
		return Change{}, nil, fmt.Errorf("delete %s: %w", id, types.ErrNotFound)
	}
	if err := s.checkOwner(sl, actor); err != nil {
		return Change{}, nil, err
	}
	op := Op{Kind: OpDelete, MessageID: sl.msg.ID}

	switch sl.msg.Status {
	case types.StatusFailed:
		s.removeSlot(sl)
		return Change{Kind: ChangeRemoved, Message: sl.msg}, nil, nil
	case types.StatusPending:
		tombstone(&sl.msg)
		sl.queued = append(sl.queued, op)
		return Change{Kind: ChangeTombstoned, Message: sl.msg}, nil, nil
	}
	tombstone(&sl.msg)
	sl.pendingDelete = true
	return Change{Kind: ChangeTombstoned, Message: sl.msg}, &op, nil
}

// ConfirmDelete settles a persisted delete.
func (s *Store) ConfirmDelete(id string) {
	if sl := s.lookup(id); sl != nil {
		sl.pendingDelete = false
		sl.serverBody = sl.msg.Body
	}
}

// RevertDelete restores a message whose delete could not be persisted.
func (s *Store) RevertDelete(id string) Change {
	sl := s.lookup(id)
	if sl == nil || !sl.pendingDelete {
		return Change{}
	}
	sl.pendingDelete = false
	sl.msg.Deleted = false
	sl.msg.Body = sl.serverBody
	sl.msg.EditedAt = sl.serverEdited
	return Change{Kind: ChangeUpdated, Message: sl.msg}
}
