package handlestore

import (
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteDialect = dialect{
	driver: "sqlite3",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			chat_id       INTEGER NOT NULL,
			topic_id      INTEGER NOT NULL DEFAULT 0,
			ticket_id     INTEGER NOT NULL,
			ticket_number TEXT NOT NULL DEFAULT '',
			ticket_state  TEXT NOT NULL,
			message_id    INTEGER NOT NULL,
			updated_at    TIMESTAMP NOT NULL,
			PRIMARY KEY (chat_id, topic_id, ticket_id)
		)`,
	upsert: `
		INSERT INTO %s (chat_id, topic_id, ticket_id, ticket_number, ticket_state, message_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, topic_id, ticket_id)
		DO UPDATE SET ticket_number = excluded.ticket_number,
		              ticket_state  = excluded.ticket_state,
		              message_id    = excluded.message_id,
		              updated_at    = excluded.updated_at`,
	selectAll: `
		SELECT ticket_id, ticket_number, ticket_state, message_id, updated_at
		FROM %s
		WHERE chat_id = ? AND topic_id = ?
		ORDER BY ticket_id`,
	deleteOne: `DELETE FROM %s WHERE chat_id = ? AND topic_id = ? AND ticket_id = ?`,
	destinations: `
		SELECT DISTINCT chat_id, topic_id FROM %s ORDER BY chat_id, topic_id`,
}

// NewSQLiteStore opens (creating if needed) a sqlite database at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", ErrInvalidDSN)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return newSQLStore(path+"?_busy_timeout=5000&_journal_mode=WAL", sqliteDialect), nil
}
