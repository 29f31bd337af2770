package handlestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationStore(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewPostgresStore(dsn)
		require.NoError(t, err)
		s.tableName = postgresIntegrationTableName("ticket_messages_it")
		t.Cleanup(func() {
			_ = s.Close()
			postgresIntegrationDropTable(t, dsn, s.tableName)
		})
		return s
	})
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TICKETSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set TICKETSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdentifier(tableName)); err != nil {
		t.Fatalf("drop table %s: %v", tableName, err)
	}
}
