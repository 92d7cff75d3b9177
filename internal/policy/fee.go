// Package policy implements the pure dispatch policies of the GMP proxy:
// the fee floor, the per-item dispatch limit and the expiry window.
// All three are side-effect free; the engine composes them against the store.
package policy

import (
	"github.com/mineproxy/gmp/internal/work"
)

// FeePolicy decides whether a work item's reward clears the configured
// minimum before it may be dispatched.
type FeePolicy struct {
	minFee float64
}

// NewFeePolicy creates a fee policy with the given floor.
// A floor of zero admits every non-negative fee.
func NewFeePolicy(minFee float64) *FeePolicy {
	return &FeePolicy{minFee: minFee}
}

// Eligible reports whether the item's fee meets the floor.
// An item at exactly the floor is eligible.
func (p *FeePolicy) Eligible(w *work.Item) bool {
	return w.Fee >= p.minFee
}
