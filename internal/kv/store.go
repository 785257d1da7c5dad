// Package kv provides the opaque key-value storage the overlay records live
// in. Every value is a JSON blob; there are no transactions and every write is
// an unconditional overwrite.
package kv

import "context"

// Store is the storage contract consumed by the overlay layer.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
