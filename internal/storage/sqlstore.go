package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ernie/whitelister/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// timestampLayout sorts lexically in chronological order
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// formatTimestamp converts time.Time to a fixed-width UTC string
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		// rows written by hand or by other tools
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC(), err
}

// SQLStore is a row store: every mutation is a single statement, so each
// successful Add or Remove is durable when it returns. The composite primary
// key (space, natural_key) is what makes Add atomic.
type SQLStore struct {
	driver string // sqlite or pgx
	dsn    string

	mu          sync.Mutex
	db          *sql.DB
	initialized bool
	closed      bool
}

var _ Store = (*SQLStore)(nil)

// NewSQLite creates a store backed by the SQLite database at path
func NewSQLite(path string) *SQLStore {
	return &SQLStore{driver: "sqlite", dsn: path}
}

// NewPostgres creates a store backed by Postgres
func NewPostgres(dsn string) *SQLStore {
	return &SQLStore{driver: "pgx", dsn: dsn}
}

// Initialize opens the database and creates the schema
func (s *SQLStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.driver == "sqlite" {
		// SQLite only supports one writer at a time, so limit connections
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000; PRAGMA synchronous = FULL;"); err != nil {
			db.Close()
			return fmt.Errorf("setting pragmas: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connecting to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}

	s.db = db
	s.initialized = true
	return nil
}

func (s *SQLStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.closed {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

// rebind rewrites ? placeholders to $n for Postgres
func (s *SQLStore) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Add inserts the record unless the key exists
func (s *SQLStore) Add(ctx context.Context, rec domain.MemberRecord) (bool, error) {
	if err := validateRecord(rec); err != nil {
		return false, err
	}
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	key := rec.Key()
	var id, xuid sql.NullString
	switch ident := rec.Identity.(type) {
	case domain.JavaIdentity:
		if ident.Resolved() {
			id = sql.NullString{String: ident.UUID.String(), Valid: true}
		}
	case domain.BedrockIdentity:
		xuid = sql.NullString{String: ident.XUID, Valid: true}
	}

	result, err := db.ExecContext(ctx, s.rebind(`
		INSERT INTO members (space, natural_key, username, uuid, xuid, requested_by, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (space, natural_key) DO NOTHING
	`), string(key.Space), key.Value, rec.Username(), id, xuid, rec.RequestedBy, formatTimestamp(rec.ApprovedAt))
	if err != nil {
		return false, fmt.Errorf("inserting member %s: %w", key, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting member %s: %w", key, err)
	}
	return n == 1, nil
}

// Remove deletes the member with key
func (s *SQLStore) Remove(ctx context.Context, key domain.Key) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, s.rebind(`
		DELETE FROM members WHERE space = ? AND natural_key = ?
	`), string(key.Space), key.Value)
	if err != nil {
		return false, fmt.Errorf("deleting member %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting member %s: %w", key, err)
	}
	return n > 0, nil
}

// Contains reports whether key is present
func (s *SQLStore) Contains(ctx context.Context, key domain.Key) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	var count int
	err = db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM members WHERE space = ? AND natural_key = ?
	`), string(key.Space), key.Value).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking member %s: %w", key, err)
	}
	return count > 0, nil
}

// List returns all members ordered by approval time
func (s *SQLStore) List(ctx context.Context) ([]domain.MemberRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT space, username, uuid, xuid, requested_by, approved_at
		FROM members
		ORDER BY approved_at, space, natural_key
	`)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var records []domain.MemberRecord
	for rows.Next() {
		rec, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Persist is a no-op: every statement commits on its own
func (s *SQLStore) Persist(_ context.Context) error {
	_, err := s.conn()
	return err
}

// Close closes the database connection. A closed store stays closed: it
// cannot be initialized again.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
