// Package lock serializes work per key: one sweep per deposit address and one
// nonce-consuming broadcast per signer address.
package lock

import (
	"context"
	"errors"
	"strings"
)

// ErrNotAcquired is returned by TryAcquire when the key is already held.
var ErrNotAcquired = errors.New("lock is held")

// Release frees a held lock. Calling it more than once is a no-op.
type Release func()

// Locker grants exclusive ownership of a key.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (Release, error)
	Acquire(ctx context.Context, key string) (Release, error)
}

// SweepKey guards a deposit address against concurrent sweeps.
func SweepKey(address string) string {
	return "sweep:" + strings.ToLower(address)
}

// NonceKey guards nonce acquisition and broadcast for a signing address.
func NonceKey(address string) string {
	return "nonce:" + strings.ToLower(address)
}

// SettlementKey guards a single withdrawal ledger entry.
func SettlementKey(entryID string) string {
	return "settle:" + entryID
}
