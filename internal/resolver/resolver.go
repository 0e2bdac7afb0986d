// Package resolver maps Minecraft usernames to canonical profiles.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the lookup service has no such player
var ErrNotFound = errors.New("player not found")

// ErrBadStatus is wrapped around any unexpected HTTP status
var ErrBadStatus = errors.New("unexpected lookup status")

// Profile is a resolved Java identity
type Profile struct {
	Username string
	UUID     uuid.UUID
}

// Resolver looks up a player by display name
type Resolver interface {
	LookupByUsername(ctx context.Context, username string) (*Profile, error)
}

// Null trusts the caller-supplied name and never attaches a canonical id.
// Used for offline-mode servers and whenever lookups are disabled.
type Null struct{}

// LookupByUsername returns the name as given
func (Null) LookupByUsername(_ context.Context, username string) (*Profile, error) {
	return &Profile{Username: username}, nil
}

// ParseUndashedID converts the 32 hex digit id returned by the profile API
// into a canonical UUID, inserting hyphens at 8-4-4-4-12
func ParseUndashedID(id string) (uuid.UUID, error) {
	id = strings.TrimSpace(id)
	if len(id) != 32 {
		return uuid.Nil, fmt.Errorf("profile id %q: want 32 hex digits", id)
	}
	dashed := id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32]
	u, err := uuid.Parse(dashed)
	if err != nil {
		return uuid.Nil, fmt.Errorf("profile id %q: %w", id, err)
	}
	return u, nil
}
