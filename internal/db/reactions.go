package db

import (
	"strings"

	"github.com/adamavenir/murmur/internal/types"
)

// AddReaction records a reaction. It reports false when it already existed.
func AddReaction(db DBTX, r types.ReactionEntry) (bool, error) {
	res, err := db.Exec(`
		INSERT OR IGNORE INTO mm_reactions (message_guid, emoji, user_id, reacted_at)
		VALUES (?, ?, ?, ?)
	`, r.MessageID, r.Emoji, r.UserID, r.ReactedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveReaction deletes a reaction. It reports false when there was none.
func RemoveReaction(db DBTX, r types.ReactionEntry) (bool, error) {
	res, err := db.Exec(`
		DELETE FROM mm_reactions WHERE message_guid = ? AND emoji = ? AND user_id = ?
	`, r.MessageID, r.Emoji, r.UserID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetReactionsForMessages aggregates reactions per message, emojis in order
// of first reaction and users in reaction order. HasCurrentUserReacted is set
// for viewer.
func GetReactionsForMessages(db DBTX, messageGUIDs []string, viewer string) (map[string][]types.ReactionAggregate, error) {
	result := make(map[string][]types.ReactionAggregate)
	if len(messageGUIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(messageGUIDs))
	args := make([]any, len(messageGUIDs))
	for i, guid := range messageGUIDs {
		placeholders[i] = "?"
		args[i] = guid
	}

	query := `
		SELECT message_guid, emoji, user_id
		FROM mm_reactions
		WHERE message_guid IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY reacted_at ASC, rowid ASC
	`
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[string]map[string]int)
	for rows.Next() {
		var msgGUID, emoji, userID string
		if err := rows.Scan(&msgGUID, &emoji, &userID); err != nil {
			return nil, err
		}
		byEmoji := index[msgGUID]
		if byEmoji == nil {
			byEmoji = make(map[string]int)
			index[msgGUID] = byEmoji
		}
		pos, ok := byEmoji[emoji]
		if !ok {
			pos = len(result[msgGUID])
			byEmoji[emoji] = pos
			result[msgGUID] = append(result[msgGUID], types.ReactionAggregate{MessageID: msgGUID, Emoji: emoji})
		}
		agg := &result[msgGUID][pos]
		agg.Users = append(agg.Users, userID)
		agg.Count++
		if userID == viewer {
			agg.HasCurrentUserReacted = true
		}
	}
	return result, rows.Err()
}
