package handlestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

const (
	defaultTableName = "ticket_messages"
	operationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// dialect holds the per-driver SQL. Each statement takes the quoted table
// name as its only format argument.
type dialect struct {
	driver       string
	createTable  string
	upsert       string
	selectAll    string
	deleteOne    string
	destinations string
}

// SQLStore is a Store over database/sql. The schema is created on first use.
type SQLStore struct {
	dsn       string
	tableName string
	dialect   dialect
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newSQLStore(dsn string, d dialect) *SQLStore {
	return &SQLStore{
		dsn:       dsn,
		tableName: defaultTableName,
		dialect:   d,
		openDB:    sql.Open,
	}
}

func (s *SQLStore) Put(ctx context.Context, dest ticket.Destination, entry ticket.TrackedEntry) error {
	if err := s.ensureReady(); err != nil {
		return persistErr("put", err)
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.query(s.dialect.upsert),
		dest.ChatID, dest.TopicID, entry.ItemID, entry.Number, entry.State, entry.MessageID, entry.UpdatedAt.UTC())
	return persistErr("put", err)
}

func (s *SQLStore) GetAll(ctx context.Context, dest ticket.Destination) ([]ticket.TrackedEntry, error) {
	if err := s.ensureReady(); err != nil {
		return nil, persistErr("get_all", err)
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.query(s.dialect.selectAll), dest.ChatID, dest.TopicID)
	if err != nil {
		return nil, persistErr("get_all", err)
	}
	defer rows.Close()

	var entries []ticket.TrackedEntry
	for rows.Next() {
		var e ticket.TrackedEntry
		if err := rows.Scan(&e.ItemID, &e.Number, &e.State, &e.MessageID, &e.UpdatedAt); err != nil {
			return nil, persistErr("get_all", fmt.Errorf("scanning row: %w", err))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("get_all", err)
	}
	return entries, nil
}

func (s *SQLStore) Remove(ctx context.Context, dest ticket.Destination, itemID int64) error {
	if err := s.ensureReady(); err != nil {
		return persistErr("remove", err)
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.query(s.dialect.deleteOne), dest.ChatID, dest.TopicID, itemID)
	return persistErr("remove", err)
}

func (s *SQLStore) Destinations(ctx context.Context) ([]ticket.Destination, error) {
	if err := s.ensureReady(); err != nil {
		return nil, persistErr("destinations", err)
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.query(s.dialect.destinations))
	if err != nil {
		return nil, persistErr("destinations", err)
	}
	defer rows.Close()

	var dests []ticket.Destination
	for rows.Next() {
		var d ticket.Destination
		if err := rows.Scan(&d.ChatID, &d.TopicID); err != nil {
			return nil, persistErr("destinations", fmt.Errorf("scanning row: %w", err))
		}
		dests = append(dests, d)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("destinations", err)
	}
	return dests, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) query(stmt string) string {
	return fmt.Sprintf(stmt, quoteIdentifier(s.tableName))
}

func (s *SQLStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("opening %s database: %w", s.dialect.driver, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		if _, err := db.ExecContext(ctx, s.query(s.dialect.createTable)); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("creating table %s: %w", s.tableName, err)
			return
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
