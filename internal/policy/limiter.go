package policy

import (
	"errors"

	"github.com/mineproxy/gmp/internal/work"
)

// ErrLimitExceeded is returned when RecordDispatch is called on an item
// whose dispatch count has already reached the configured maximum.
var ErrLimitExceeded = errors.New("dispatch limit exceeded")

// DispatchLimiter bounds how many times a single work item may be handed out.
type DispatchLimiter struct {
	maxDispatch int
}

// NewDispatchLimiter creates a limiter with the given maximum (≥ 1).
func NewDispatchLimiter(maxDispatch int) *DispatchLimiter {
	return &DispatchLimiter{maxDispatch: maxDispatch}
}

// CanDispatch reports whether the item is still under the dispatch limit.
func (l *DispatchLimiter) CanDispatch(w *work.Item) bool {
	return w.DispatchCount < l.maxDispatch
}

// RecordDispatch increments the dispatch count and moves the item to
// Dispatched. Callers must check CanDispatch first and apply the mutation
// through a conditional store update; two racing dispatchers must not both
// observe headroom and jointly exceed the limit.
func (l *DispatchLimiter) RecordDispatch(w *work.Item) error {
	if !l.CanDispatch(w) {
		return ErrLimitExceeded
	}
	if w.State != work.StatePending && w.State != work.StateDispatched {
		return ErrLimitExceeded
	}
	w.DispatchCount++
	w.State = work.StateDispatched
	return nil
}
