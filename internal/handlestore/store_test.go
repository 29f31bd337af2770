package handlestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

var (
	destA = ticket.Destination{ChatID: -1001, TopicID: 7}
	destB = ticket.Destination{ChatID: -1001}
)

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("empty", func(t *testing.T) {
		s := newStore(t)
		entries, err := s.GetAll(context.Background(), destA)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("put and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, destA, ticket.TrackedEntry{ItemID: 102, Number: "T102", State: "open", MessageID: 502}))
		require.NoError(t, s.Put(ctx, destA, ticket.TrackedEntry{ItemID: 101, Number: "T101", State: "new", MessageID: 501}))

		entries, err := s.GetAll(ctx, destA)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(101), entries[0].ItemID)
		assert.Equal(t, "T101", entries[0].Number)
		assert.Equal(t, "new", entries[0].State)
		assert.Equal(t, int64(501), entries[0].MessageID)
		assert.False(t, entries[0].UpdatedAt.IsZero())
		assert.Equal(t, int64(102), entries[1].ItemID)
	})

	t.Run("upsert keeps one entry per item", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, destA, ticket.TrackedEntry{ItemID: 101, State: "new", MessageID: 501}))
		require.NoError(t, s.Put(ctx, destA, ticket.TrackedEntry{ItemID: 101, State: "open", MessageID: 601}))

		entries, err := s.GetAll(ctx, destA)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "open", entries[0].State)
		assert.Equal(t, int64(601), entries[0].MessageID)
	})

	t.Run("destinations are isolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, destA, ticket.TrackedEntry{ItemID: 101, State: "new", MessageID: 501}))
		require.NoError(t, s.Put(ctx, destB, ticket.TrackedEntry{ItemID: 101, State: "open", MessageID: 901}))

		a, err := s.GetAll(ctx, destA)
		require.NoError(t, err)
		b, err := s.GetAll(ctx, destB)
		require.NoError(t, err)
		require.Len(t, a, 1)
		require.Len(t, b, 1)
		assert.Equal(t, int64(501), a[0].MessageID)
		assert.Equal(t, int64(901), b[0].MessageID)

		dests, err := s.Destinations(ctx)
		require.NoError(t, err)
		assert.Equal(t, []ticket.Destination{destB, destA}, dests)
	})

	t.Run("remove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, destA, ticket.TrackedEntry{ItemID: 101, State: "new", MessageID: 501}))
		require.NoError(t, s.Put(ctx, destA, ticket.TrackedEntry{ItemID: 102, State: "new", MessageID: 502}))

		require.NoError(t, s.Remove(ctx, destA, 101))
		require.NoError(t, s.Remove(ctx, destA, 999), "removing an absent entry")

		entries, err := s.GetAll(ctx, destA)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(102), entries[0].ItemID)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "handles.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handles.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, destA, ticket.TrackedEntry{ItemID: 101, State: "new", MessageID: 501, UpdatedAt: time.Now()}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	entries, err := second.GetAll(ctx, destA)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(501), entries[0].MessageID)
}

func TestSQLStoreOpenFailureIsPersistenceError(t *testing.T) {
	s := newSQLStore("ignored", sqliteDialect)
	s.openDB = func(string, string) (*sql.DB, error) {
		return nil, errors.New("boom")
	}

	err := s.Put(context.Background(), destA, ticket.TrackedEntry{ItemID: 1, State: "new", MessageID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ticket.ErrPersistence)

	_, err = s.GetAll(context.Background(), destA)
	assert.ErrorIs(t, err, ticket.ErrPersistence)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		dsn     string
		want    string
		wantErr bool
	}{
		{name: "memory", dsn: "memory://", want: "*handlestore.MemoryStore"},
		{name: "sqlite url", dsn: "sqlite://" + filepath.Join(dir, "a.db"), want: "*handlestore.SQLStore"},
		{name: "bare path", dsn: filepath.Join(dir, "b.db"), want: "*handlestore.SQLStore"},
		{name: "postgres", dsn: "postgres://u:p@localhost/db?sslmode=disable", want: "*handlestore.SQLStore"},
		{name: "empty", dsn: "  ", wantErr: true},
		{name: "unknown scheme", dsn: "redis://localhost", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Open(tc.dsn)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidDSN)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			assert.Equal(t, tc.want, fmt.Sprintf("%T", s))
		})
	}
}

func TestOpenPostgresUsesPostgresDialect(t *testing.T) {
	s, err := Open("postgresql://localhost/tickets")
	require.NoError(t, err)
	sqlStore, ok := s.(*SQLStore)
	require.True(t, ok)
	assert.Equal(t, "postgres", sqlStore.dialect.driver)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"ticket_messages"`, quoteIdentifier("ticket_messages"))
	assert.Equal(t, `"a""b"`, quoteIdentifier(`a"b`))
	assert.Equal(t, `""`, quoteIdentifier(" "))
}
