package handlestore

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	driver: "postgres",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			chat_id       BIGINT NOT NULL,
			topic_id      BIGINT NOT NULL DEFAULT 0,
			ticket_id     BIGINT NOT NULL,
			ticket_number TEXT NOT NULL DEFAULT '',
			ticket_state  TEXT NOT NULL,
			message_id    BIGINT NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, topic_id, ticket_id)
		)`,
	upsert: `
		INSERT INTO %s (chat_id, topic_id, ticket_id, ticket_number, ticket_state, message_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chat_id, topic_id, ticket_id)
		DO UPDATE SET ticket_number = EXCLUDED.ticket_number,
		              ticket_state  = EXCLUDED.ticket_state,
		              message_id    = EXCLUDED.message_id,
		              updated_at    = EXCLUDED.updated_at`,
	selectAll: `
		SELECT ticket_id, ticket_number, ticket_state, message_id, updated_at
		FROM %s
		WHERE chat_id = $1 AND topic_id = $2
		ORDER BY ticket_id`,
	deleteOne: `DELETE FROM %s WHERE chat_id = $1 AND topic_id = $2 AND ticket_id = $3`,
	destinations: `
		SELECT DISTINCT chat_id, topic_id FROM %s ORDER BY chat_id, topic_id`,
}

// NewPostgresStore connects lazily to dsn; the table is created on first use.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty postgres dsn", ErrInvalidDSN)
	}
	return newSQLStore(dsn, postgresDialect), nil
}
