// Package store defines the work item store contract consumed by the
// dispatch engine. The store is the single source of truth and the sole
// synchronization point between engine instances: every state transition is
// applied as a conditional update keyed by the item's version token.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mineproxy/gmp/internal/work"
)

// ErrNotFound is returned when no work item exists under the given id.
var ErrNotFound = errors.New("work item not found")

// ErrVersionConflict is returned by CompareAndUpdate when the stored version
// no longer matches the expected one; the caller lost the race and must
// re-read before deciding anything.
var ErrVersionConflict = errors.New("work item version conflict")

// Store is the durable keyed storage of work records.
type Store interface {
	// Get loads a work item by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*work.Item, error)

	// Put creates a work item. The stored version starts at 1.
	Put(ctx context.Context, item *work.Item) error

	// ListCandidates returns up to limit non-terminal items in FIFO order
	// (earliest created first).
	ListCandidates(ctx context.Context, limit int) ([]*work.Item, error)

	// CompareAndUpdate atomically replaces the stored record iff its version
	// equals expectedVersion, bumping item.Version to expectedVersion+1 on
	// success. Returns ErrVersionConflict when the guard fails and
	// ErrNotFound when the record vanished.
	CompareAndUpdate(ctx context.Context, expectedVersion int64, item *work.Item) error

	// Health checks store connectivity.
	Health(ctx context.Context) error
}

// CounterStore tracks per-miner invalid submission counts within a rolling
// window, used for admin alerting on repeated invalid submissions.
type CounterStore interface {
	IncrInvalid(ctx context.Context, minerID string, window time.Duration) (int64, error)
}

// CredentialStore registers and resolves miner public credentials.
// MinerKey satisfies verify.KeyResolver; implementations return
// verify.ErrUnknownMiner for unregistered miners.
type CredentialStore interface {
	RegisterMiner(ctx context.Context, minerID string, pubKey []byte) error
	MinerKey(ctx context.Context, minerID string) ([]byte, error)
}
