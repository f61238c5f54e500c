package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys that were already admitted.
// It is a fast path only: the durable guarantee lives in the database unique key.
type IdempotencyStore interface {
	// MarkProcessed marks a key as seen with a TTL
	// Returns true if the key was newly marked, false if it was already present
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a key has already been marked
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long an admitted key is remembered by the fast path
	// Default: 24 hours
	TTL time.Duration

	// Enabled determines whether the fast path is consulted at all
	// Default: true
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
