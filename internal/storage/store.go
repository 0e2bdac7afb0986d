// Package storage holds the membership store implementations.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ernie/whitelister/internal/domain"
)

var (
	ErrAlreadyInitialized = errors.New("store already initialized")
	ErrNotInitialized     = errors.New("store not initialized")
	ErrInvalidRecord      = errors.New("invalid member record")
)

// Store is the persistent set of approved members. All methods are safe for
// concurrent use. Initialize must be called once before anything else.
type Store interface {
	// Initialize loads existing state or creates an empty store
	Initialize(ctx context.Context) error
	// Add inserts rec unless its natural key is taken. The check and the
	// insert are one atomic step; a true result is durable on return.
	Add(ctx context.Context, rec domain.MemberRecord) (bool, error)
	// Remove deletes the member with the given key, reporting whether one existed
	Remove(ctx context.Context, key domain.Key) (bool, error)
	Contains(ctx context.Context, key domain.Key) (bool, error)
	// List returns a snapshot of all members in insertion order
	List(ctx context.Context) ([]domain.MemberRecord, error)
	// Persist flushes the full state to the backing medium
	Persist(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend
type Options struct {
	Type string // json, sqlite, postgres
	Path string
	DSN  string
}

// New constructs an uninitialized store for the configured backend
func New(opts Options) (Store, error) {
	switch opts.Type {
	case "", "json":
		return NewFileStore(opts.Path), nil
	case "sqlite", "database":
		return NewSQLite(opts.Path), nil
	case "postgres":
		return NewPostgres(opts.DSN), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", opts.Type)
	}
}

func validateRecord(rec domain.MemberRecord) error {
	key := rec.Key()
	if rec.Identity == nil || key.Value == "" {
		return ErrInvalidRecord
	}
	return nil
}
