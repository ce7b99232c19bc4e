package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/adamavenir/murmur/internal/core"
	"github.com/adamavenir/murmur/internal/types"
)

// FindMessagesByPrefix returns up to limit messages whose guid starts with
// prefix.
func FindMessagesByPrefix(db DBTX, prefix string, limit int) ([]types.Message, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := db.Query(fmt.Sprintf(`SELECT %s FROM mm_messages WHERE guid LIKE ? ESCAPE '\' ORDER BY guid LIMIT ?`, messageColumns), escaped+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ResolveMessage finds one of the user's messages by full id or by a unique
// prefix of its short form ("#ab12", "ab12" or "msg-ab12").
func (l *Local) ResolveMessage(ctx context.Context, ref string) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if ref == "" {
		return types.Message{}, &types.ValidationError{Field: "message", Reason: "no message id"}
	}
	if !strings.Contains(ref, "-") {
		ref = core.MessagePrefix + "-" + ref
	}
	found, err := FindMessagesByPrefix(l.db, ref, 2)
	if err != nil {
		return types.Message{}, classify("resolve message", err)
	}
	switch len(found) {
	case 0:
		return types.Message{}, fmt.Errorf("message %s: %w", ref, types.ErrNotFound)
	case 1:
	default:
		if found[0].ID != ref {
			return types.Message{}, &types.ValidationError{Field: "message", Reason: fmt.Sprintf("%s matches more than one message", ref)}
		}
	}
	msg := found[0]
	if _, err := l.participantOf(l.db, msg.ConversationID); err != nil {
		return types.Message{}, classify("resolve message", err)
	}
	return msg, nil
}
