package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/types"
)

// entityArchive is a log-only record of a per-user archive flag. Feeds never
// deliver it.
const entityArchive types.EventEntity = "archive"

type archiveRecord struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Archived       bool   `json:"archived"`
}

// RebuildFromEvents clears the index and replays the event log into it.
func RebuildFromEvents(db *sql.DB, eventsPath string) error {
	events, err := readEvents(eventsPath)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, table := range []string{"mm_reactions", "mm_messages", "mm_archives", "mm_conversations"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	applied := 0
	for _, ev := range events {
		ok, err := replayEvent(tx, ev)
		if err != nil {
			logger.Warn("skipping event during rebuild", "offset", ev.Offset, "entity", ev.Entity, "op", ev.Op, "err", err)
			continue
		}
		if ok {
			applied++
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info("rebuilt index from event log", "events", len(events), "applied", applied)
	return nil
}

func replayEvent(tx DBTX, ev types.Event) (bool, error) {
	switch ev.Entity {
	case types.EntityMessage:
		msg, err := ev.Message()
		if err != nil {
			return false, err
		}
		if ev.Op == types.OpDelete {
			msg.Deleted = true
			msg.Body = types.Cleared(msg.Body)
			msg.Sealed = nil
		}
		return true, UpsertMessage(tx, msg)
	case types.EntityReaction:
		r, err := ev.Reaction()
		if err != nil {
			return false, err
		}
		if ev.Op == types.OpDelete {
			_, err = RemoveReaction(tx, r)
		} else {
			_, err = AddReaction(tx, r)
		}
		return err == nil, err
	case types.EntityConversation:
		conv, err := ev.Conversation()
		if err != nil {
			return false, err
		}
		if ev.Op == types.OpDelete {
			conv.Tombstoned = true
		}
		return true, UpsertConversation(tx, conv)
	case entityArchive:
		var rec archiveRecord
		if err := json.Unmarshal(ev.Payload, &rec); err != nil {
			return false, fmt.Errorf("decode archive payload: %w", err)
		}
		return true, SetArchived(tx, rec.ConversationID, rec.UserID, rec.Archived, ev.At)
	}
	// Typing and heartbeats are not state.
	return false, nil
}
