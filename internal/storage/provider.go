// Package storage defines the key-value persistence interface backing the
// enrichment cache and the feature-flag document. The abstraction keeps the
// engine independent of a specific substrate (in-memory, Redis, Postgres).
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("storage: key not found")

// KV is the common interface for a key-value provider. Values are opaque
// bytes; TTL semantics are advisory, a provider may retain values longer
// (logical expiry lives in the stored entry, not the substrate).
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl of zero means no substrate expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Purge removes every key with the given prefix and reports how many
	// were deleted.
	Purge(ctx context.Context, prefix string) (int, error)

	// Close releases provider resources.
	Close() error
}
