package db

import (
	"database/sql"
	"fmt"

	"github.com/adamavenir/murmur/internal/core"
)

const schemaSQL = `
-- Direct conversations, one per participant pair
CREATE TABLE IF NOT EXISTS mm_conversations (
  guid TEXT PRIMARY KEY,               -- e.g., "cnv-a1b2c3d4"
  pair_key TEXT NOT NULL,              -- sorted participant ids
  user_a TEXT NOT NULL,
  user_b TEXT NOT NULL,
  listing_id TEXT,
  created_at INTEGER NOT NULL,         -- unix ms
  last_message_at INTEGER NOT NULL DEFAULT 0,
  tombstoned INTEGER NOT NULL DEFAULT 0,
  encrypted INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_mm_conversations_pair ON mm_conversations(pair_key);
CREATE INDEX IF NOT EXISTS idx_mm_conversations_a ON mm_conversations(user_a);
CREATE INDEX IF NOT EXISTS idx_mm_conversations_b ON mm_conversations(user_b);

-- Per-user archive flags
CREATE TABLE IF NOT EXISTS mm_archives (
  conversation_guid TEXT NOT NULL,
  user_id TEXT NOT NULL,
  archived_at INTEGER NOT NULL,
  PRIMARY KEY (conversation_guid, user_id)
);

-- Messages
CREATE TABLE IF NOT EXISTS mm_messages (
  guid TEXT PRIMARY KEY,               -- e.g., "msg-a1b2c3d4"
  client_id TEXT UNIQUE,               -- correlation key from the sender
  conversation_guid TEXT NOT NULL,
  sender_id TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'text',   -- text, image, voice, file
  body TEXT NOT NULL DEFAULT '{}',     -- JSON body for the type
  sealed TEXT,                         -- JSON sealed payload, if encrypted
  created_at INTEGER NOT NULL,         -- unix ms
  edited_at INTEGER,
  read_at INTEGER,
  reply_to TEXT,                       -- parent message guid for threads
  deleted INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_mm_messages_window ON mm_messages(conversation_guid, created_at, guid);
CREATE INDEX IF NOT EXISTS idx_mm_messages_reply_to ON mm_messages(reply_to);

-- Reactions
CREATE TABLE IF NOT EXISTS mm_reactions (
  message_guid TEXT NOT NULL,
  emoji TEXT NOT NULL,
  user_id TEXT NOT NULL,
  reacted_at INTEGER NOT NULL,
  PRIMARY KEY (message_guid, emoji, user_id)
);

CREATE INDEX IF NOT EXISTS idx_mm_reactions_message ON mm_reactions(message_guid);
`

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// InitSchema creates tables and indexes if they are missing.
func InitSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(schemaSQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SchemaExists reports whether the murmur schema is present.
func SchemaExists(db *sql.DB) (bool, error) {
	row := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='mm_messages'
	`)
	var name string
	err := row.Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return name != "", nil
}

func generateUniqueGUIDForTable(db DBTX, table, prefix string) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		guid, err := core.GenerateGUID(prefix)
		if err != nil {
			return "", err
		}
		row := db.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE guid = ?", table), guid)
		var exists int
		err = row.Scan(&exists)
		if err == sql.ErrNoRows {
			return guid, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("failed to generate unique %s GUID", prefix)
}
