// Package storage provides abstractions for the durable result ledger.
package storage

import (
	"context"
	"errors"

	"tombola/internal/models"
)

// ErrStaleCheckpoint is returned by Append when the stored cursor is not the
// one the new results were drawn from.
var ErrStaleCheckpoint = errors.New("ledger has moved since the draw started")

// Checkpoint is the session state persisted next to the results. The
// cursor is stored explicitly since it cannot be derived from the number of
// results once a group has been partially attributed.
type Checkpoint struct {
	Cursor int
	// Restrictions maps a normalized restricted lot name to the person keys
	// that won it in the current round.
	Restrictions map[string][]string
}

// Ledger defines the append-only store of drawn results.
type Ledger interface {
	// Append persists new results together with the checkpoint reached
	// after drawing them, atomically. from is the cursor the results were
	// drawn at; if the stored cursor differs nothing is written and
	// ErrStaleCheckpoint is returned.
	Append(ctx context.Context, from int, results []models.Result, cp Checkpoint) error

	// LoadAll returns every result in draw order and the last checkpoint.
	// An empty ledger returns no results and a zero checkpoint.
	LoadAll(ctx context.Context) ([]models.Result, Checkpoint, error)

	// Clear deletes every result and resets the checkpoint.
	Clear(ctx context.Context) error

	// Lock takes the ledger's exclusive lock, shared by every process that
	// opens the same ledger, waiting until ctx is done.
	Lock(ctx context.Context) error

	// Unlock releases the lock taken by Lock.
	Unlock() error

	// Close releases any resources held by the ledger.
	Close() error
}
