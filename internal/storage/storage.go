package storage

import (
	"context"
	"errors"

	"envmon/internal/models"
)

// Storage errors
var (
	ErrNoReadings = errors.New("no readings stored")
	ErrClosed     = errors.New("store is closed")
)

// Store persists completed snapshots with append semantics. Appending the
// same reading twice stores it twice; deduplication is not part of the contract.
type Store interface {
	Append(ctx context.Context, reading models.EnvironmentReading) error
	Latest(ctx context.Context) (models.EnvironmentReading, error)
	Close() error
}
