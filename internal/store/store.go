// Package store persists player accounts and progression. Two implementations
// exist: an in-memory store for development and tests, and a PostgreSQL store
// for production.
package store

import (
	"context"
	"errors"

	"github.com/arenaroyale/arenaserver/internal/model"
)

// ErrNotFound is returned when a player does not exist.
var ErrNotFound = errors.New("player not found")

// PlayerStore is the persistence interface for player records.
type PlayerStore interface {
	// Get returns a player by ID. Returns nil, nil if not found.
	Get(ctx context.Context, id string) (*model.Player, error)

	// FindByUsername returns a player by username, case-insensitive.
	// Returns nil, nil if not found.
	FindByUsername(ctx context.Context, username string) (*model.Player, error)

	// Save inserts or replaces a player record.
	Save(ctx context.Context, p *model.Player) error

	// Update applies fn to the current record under a per-player lock and
	// persists the result. Battle settlement goes through here so that two
	// concurrent battles can't lose each other's trophy writes.
	// Returns ErrNotFound if the player does not exist.
	Update(ctx context.Context, id string, fn func(*model.Player) error) (*model.Player, error)

	// ByRank returns up to limit players ordered by trophies descending.
	// Guest accounts are excluded.
	ByRank(ctx context.Context, limit int) ([]*model.Player, error)

	// Close releases underlying resources.
	Close()
}
