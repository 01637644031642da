package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConflict is returned when a write violates a uniqueness or
	// compare-and-set condition.
	ErrConflict = errors.New("storage: record conflict")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Durations() DurationStore
	APIKeys() APIKeyStore
}

// DurationStore manages person durations and their details.
type DurationStore interface {
	// Atomic runs fn inside a single transaction. Any error returned by fn
	// rolls the transaction back.
	Atomic(ctx context.Context, fn func(tx DurationTx) error) error

	// ListAggregates returns every person duration with its details,
	// newest first. Details are ordered by start time, newest first.
	ListAggregates(ctx context.Context) ([]PersonDuration, error)

	// ListDetails returns the details of one person duration ordered by
	// start time, newest first.
	ListDetails(ctx context.Context, personDurationID int64) ([]Detail, error)
}

// DurationTx is the unit of work handed to DurationStore.Atomic.
// It must not be used after the callback returns.
type DurationTx interface {
	FindAggregate(matchKey, day string) (*PersonDuration, error)
	CreateAggregate(p *PersonDuration) error
	LockAggregate(id int64) (*PersonDuration, error)
	SaveAggregate(p *PersonDuration) error
	FindOpenDetail(trackID string) (*Detail, error)
	LatestDetail(trackID string) (*Detail, error)
	CreateDetail(d *Detail) error
	CloseDetail(d *Detail) error
}

// APIKeyStore manages issued API keys.
type APIKeyStore interface {
	Create(ctx context.Context, key APIKey) error
	Get(ctx context.Context, digest string) (*APIKey, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}
