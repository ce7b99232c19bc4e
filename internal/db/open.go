package db

import (
	"database/sql"
	"errors"
	"os"

	"github.com/adamavenir/murmur/internal/core"
	_ "modernc.org/sqlite"
)

// OpenDatabase opens the sqlite index of a workspace, rebuilding it from the
// event log when the log is newer.
func OpenDatabase(ws core.Workspace) (*sql.DB, error) {
	if err := os.MkdirAll(ws.Dir, 0o755); err != nil {
		return nil, err
	}

	dbExists := true
	if _, err := os.Stat(ws.DBPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			dbExists = false
		} else {
			return nil, err
		}
	}

	eventsMtime := logMtime(ws.EventsPath())
	var dbMtime int64
	if dbExists {
		dbMtime = logMtime(ws.DBPath())
	}

	shouldRebuild := eventsMtime > 0 && (!dbExists || eventsMtime > dbMtime)

	conn, err := sql.Open("sqlite", ws.DBPath())
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := InitSchema(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if shouldRebuild {
		if err := RebuildFromEvents(conn, ws.EventsPath()); err != nil {
			_ = conn.Close()
			return nil, err
		}
		touchDatabaseFile(ws.DBPath())
	}

	return conn, nil
}
