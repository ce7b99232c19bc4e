package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/types"
)

// messageColumns is the explicit column list for SELECT queries.
const messageColumns = `guid, client_id, conversation_guid, sender_id, type, body, sealed, created_at, edited_at, read_at, reply_to, deleted`

// CreateMessage inserts a new message with a fresh guid. msg.CreatedAt must be set.
func CreateMessage(db DBTX, msg types.Message) (types.Message, error) {
	guid, err := generateUniqueGUIDForTable(db, "mm_messages", core.MessagePrefix)
	if err != nil {
		return types.Message{}, err
	}
	msg.ID = guid
	msg.Status = types.StatusSent
	msg.Seq = 0
	if err := UpsertMessage(db, msg); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// UpsertMessage writes the full record, replacing any previous version.
func UpsertMessage(db DBTX, msg types.Message) error {
	body := msg.Body
	if body == nil {
		body = types.TextBody{}
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var sealedJSON *string
	if msg.Sealed != nil {
		data, err := json.Marshal(msg.Sealed)
		if err != nil {
			return err
		}
		value := string(data)
		sealedJSON = &value
	}
	var clientID *string
	if msg.ClientID != "" {
		clientID = &msg.ClientID
	}

	_, err = db.Exec(`
		INSERT INTO mm_messages (guid, client_id, conversation_guid, sender_id, type, body, sealed, created_at, edited_at, read_at, reply_to, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			type = excluded.type,
			body = excluded.body,
			sealed = excluded.sealed,
			edited_at = excluded.edited_at,
			read_at = excluded.read_at,
			deleted = excluded.deleted
	`, msg.ID, clientID, msg.ConversationID, msg.SenderID, string(body.Kind()), string(bodyJSON), sealedJSON,
		msg.CreatedAt, msg.EditedAt, msg.ReadAt, msg.ReplyTo, boolToInt(msg.Deleted))
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		UPDATE mm_conversations SET last_message_at = ?
		WHERE guid = ? AND last_message_at < ?
	`, msg.CreatedAt, msg.ConversationID, msg.CreatedAt)
	return err
}

// GetMessage returns a message by guid.
func GetMessage(db DBTX, guid string) (*types.Message, error) {
	row := db.QueryRow(fmt.Sprintf(`SELECT %s FROM mm_messages WHERE guid = ?`, messageColumns), guid)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessageByClientID returns the message created for a correlation key.
func GetMessageByClientID(db DBTX, clientID string) (*types.Message, error) {
	row := db.QueryRow(fmt.Sprintf(`SELECT %s FROM mm_messages WHERE client_id = ?`, messageColumns), clientID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MessageFilter narrows a window query beyond the conversation.
type MessageFilter struct {
	ConversationID string
	ReplyTo        string
}

// GetMessages returns a window oldest first and whether more records lie
// beyond it in the direction of travel.
func GetMessages(db DBTX, filter MessageFilter, q types.MessageQuery) ([]types.Message, bool, error) {
	var conditions []string
	var args []any
	if filter.ConversationID != "" {
		conditions = append(conditions, "conversation_guid = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.ReplyTo != "" {
		conditions = append(conditions, "reply_to = ?")
		args = append(args, filter.ReplyTo)
	}
	if !q.IncludeDeleted {
		conditions = append(conditions, "deleted = 0")
	}
	if q.Before != nil {
		conditions = append(conditions, "(created_at < ? OR (created_at = ? AND guid < ?))")
		args = append(args, q.Before.CreatedAt, q.Before.CreatedAt, q.Before.ID)
	}
	if q.After != nil {
		conditions = append(conditions, "(created_at > ? OR (created_at = ? AND guid > ?))")
		args = append(args, q.After.CreatedAt, q.After.CreatedAt, q.After.ID)
	}

	query := fmt.Sprintf("SELECT %s FROM mm_messages", messageColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	// Without an After cursor the newest records win; read them backwards.
	newestFirst := q.After == nil
	if newestFirst {
		query += " ORDER BY created_at DESC, guid DESC"
	} else {
		query += " ORDER BY created_at ASC, guid ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit+1)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	more := false
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
		more = true
	}
	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, more, nil
}

// MarkMessagesRead stamps read_at on live messages received by userID.
func MarkMessagesRead(db DBTX, marker types.ReadMarker) ([]types.Message, error) {
	rows, err := db.Query(fmt.Sprintf(`
		SELECT %s FROM mm_messages
		WHERE conversation_guid = ? AND sender_id != ? AND read_at IS NULL
		  AND deleted = 0 AND created_at <= ?
		ORDER BY created_at ASC, guid ASC
	`, messageColumns), marker.ConversationID, marker.UserID, marker.UpTo)
	if err != nil {
		return nil, err
	}
	var changed []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		readAt := marker.ReadAt
		msg.ReadAt = &readAt
		changed = append(changed, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, msg := range changed {
		if _, err := db.Exec(`UPDATE mm_messages SET read_at = ? WHERE guid = ?`, marker.ReadAt, msg.ID); err != nil {
			return nil, err
		}
	}
	return changed, nil
}

// GetThreadSummaries counts live replies per parent in a conversation.
func GetThreadSummaries(db DBTX, conversationID string, asOf int64) ([]types.ThreadSummary, error) {
	rows, err := db.Query(`
		SELECT reply_to, COUNT(*) FROM mm_messages
		WHERE conversation_guid = ? AND reply_to IS NOT NULL AND deleted = 0 AND created_at <= ?
		GROUP BY reply_to
		ORDER BY reply_to
	`, conversationID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ThreadSummary
	for rows.Next() {
		var s types.ThreadSummary
		if err := rows.Scan(&s.ParentID, &s.ReplyCount); err != nil {
			return nil, err
		}
		s.AsOf = asOf
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (types.Message, error) {
	var (
		msg        types.Message
		clientID   sql.NullString
		kind       string
		bodyJSON   string
		sealed     sql.NullString
		editedAt   sql.NullInt64
		readAt     sql.NullInt64
		replyTo    sql.NullString
		deletedInt int64
	)
	if err := row.Scan(&msg.ID, &clientID, &msg.ConversationID, &msg.SenderID, &kind, &bodyJSON, &sealed,
		&msg.CreatedAt, &editedAt, &readAt, &replyTo, &deletedInt); err != nil {
		return types.Message{}, err
	}
	body, err := types.DecodeBody(types.MessageKind(kind), json.RawMessage(bodyJSON))
	if err != nil {
		return types.Message{}, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	msg.Body = body
	msg.ClientID = clientID.String
	msg.Status = types.StatusSent
	msg.Deleted = deletedInt != 0
	if sealed.Valid {
		var payload types.Sealed
		if err := json.Unmarshal([]byte(sealed.String), &payload); err != nil {
			return types.Message{}, fmt.Errorf("message %s sealed payload: %w", msg.ID, err)
		}
		msg.Sealed = &payload
	}
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Int64
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Int64
	}
	if replyTo.Valid {
		msg.ReplyTo = &replyTo.String
	}
	return msg, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
