// Package claim guards one-time side effects. A key can be claimed once; a
// second claim of the same key fails until it expires or is released.
package claim

import "context"

// Store defines the interface for claim storage operations.
type Store interface {
	// Claim atomically takes key. It returns false if the key is already held.
	Claim(ctx context.Context, key string) (bool, error)

	// Release gives key back so it can be claimed again.
	Release(ctx context.Context, key string) error

	// Close closes the store and releases any resources.
	Close() error
}
