package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/adamavenir/murmur/internal/conversations"
	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/types"
)

const conversationColumns = `guid, user_a, user_b, listing_id, created_at, last_message_at, tombstoned, encrypted`

// conversationColumnsAliased is the same but with c. prefix for subqueries.
const conversationColumnsAliased = `c.guid, c.user_a, c.user_b, c.listing_id, c.created_at, c.last_message_at, c.tombstoned, c.encrypted`

// CreateConversation inserts a conversation for the pair a, b.
func CreateConversation(db DBTX, a, b string, listingID *string, encrypted bool, createdAt int64) (types.Conversation, error) {
	guid, err := generateUniqueGUIDForTable(db, "mm_conversations", core.ConversationPrefix)
	if err != nil {
		return types.Conversation{}, err
	}
	if b < a {
		a, b = b, a
	}
	conv := types.Conversation{
		ID:           guid,
		Participants: [2]string{a, b},
		ListingID:    listingID,
		CreatedAt:    createdAt,
		Encrypted:    encrypted,
	}
	if err := UpsertConversation(db, conv); err != nil {
		return types.Conversation{}, err
	}
	return conv, nil
}

// UpsertConversation writes a conversation record. A tombstone is never lifted.
// Recreating a deleted pair makes a new conversation.
func UpsertConversation(db DBTX, conv types.Conversation) error {
	_, err := db.Exec(`
		INSERT INTO mm_conversations (guid, pair_key, user_a, user_b, listing_id, created_at, last_message_at, tombstoned, encrypted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			listing_id = COALESCE(excluded.listing_id, mm_conversations.listing_id),
			last_message_at = MAX(mm_conversations.last_message_at, excluded.last_message_at),
			tombstoned = MAX(mm_conversations.tombstoned, excluded.tombstoned),
			encrypted = excluded.encrypted
	`, conv.ID, conversations.PairKey(conv.Participants[0], conv.Participants[1]), conv.Participants[0], conv.Participants[1],
		conv.ListingID, conv.CreatedAt, conv.LastMessageAt, boolToInt(conv.Tombstoned), boolToInt(conv.Encrypted))
	return err
}

// GetConversation returns a conversation by guid, without per-user fields.
func GetConversation(db DBTX, guid string) (*types.Conversation, error) {
	row := db.QueryRow(fmt.Sprintf(`SELECT %s FROM mm_conversations WHERE guid = ?`, conversationColumns), guid)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindConversation returns the live conversation between a and b, or the
// newest tombstoned one when none is live.
func FindConversation(db DBTX, a, b string) (*types.Conversation, error) {
	row := db.QueryRow(fmt.Sprintf(`SELECT %s FROM mm_conversations WHERE pair_key = ? ORDER BY tombstoned ASC, created_at DESC LIMIT 1`, conversationColumns), conversations.PairKey(a, b))
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversationsForUser lists userID's conversations with unread counts and
// archive flags filled in for that user.
func GetConversationsForUser(db DBTX, userID string) ([]types.Conversation, error) {
	rows, err := db.Query(fmt.Sprintf(`
		SELECT %s,
			(SELECT COUNT(*) FROM mm_messages m
			 WHERE m.conversation_guid = c.guid AND m.sender_id != ? AND m.read_at IS NULL AND m.deleted = 0),
			EXISTS (SELECT 1 FROM mm_archives a WHERE a.conversation_guid = c.guid AND a.user_id = ?)
		FROM mm_conversations c
		WHERE c.user_a = ? OR c.user_b = ?
		ORDER BY c.last_message_at DESC, c.guid
	`, conversationColumnsAliased), userID, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Conversation
	for rows.Next() {
		var (
			conv       types.Conversation
			listingID  sql.NullString
			tombstoned int64
			encrypted  int64
			archived   int64
		)
		if err := rows.Scan(&conv.ID, &conv.Participants[0], &conv.Participants[1], &listingID, &conv.CreatedAt,
			&conv.LastMessageAt, &tombstoned, &encrypted, &conv.UnreadCount, &archived); err != nil {
			return nil, err
		}
		if listingID.Valid {
			conv.ListingID = &listingID.String
		}
		conv.Tombstoned = tombstoned != 0
		conv.Encrypted = encrypted != 0
		conv.Archived = archived != 0
		out = append(out, conv)
	}
	return out, rows.Err()
}

// SetArchived sets or clears userID's archive flag.
func SetArchived(db DBTX, conversationID, userID string, archived bool, at int64) error {
	if archived {
		_, err := db.Exec(`
			INSERT OR IGNORE INTO mm_archives (conversation_guid, user_id, archived_at) VALUES (?, ?, ?)
		`, conversationID, userID, at)
		return err
	}
	_, err := db.Exec(`DELETE FROM mm_archives WHERE conversation_guid = ? AND user_id = ?`, conversationID, userID)
	return err
}

func scanConversation(row scanner) (types.Conversation, error) {
	var (
		conv       types.Conversation
		listingID  sql.NullString
		tombstoned int64
		encrypted  int64
	)
	if err := row.Scan(&conv.ID, &conv.Participants[0], &conv.Participants[1], &listingID, &conv.CreatedAt,
		&conv.LastMessageAt, &tombstoned, &encrypted); err != nil {
		return types.Conversation{}, err
	}
	if listingID.Valid {
		conv.ListingID = &listingID.String
	}
	conv.Tombstoned = tombstoned != 0
	conv.Encrypted = encrypted != 0
	return conv, nil
}
