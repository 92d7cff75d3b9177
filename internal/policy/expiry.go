package policy

import (
	"time"

	"github.com/mineproxy/gmp/internal/work"
)

// ExpiryManager computes and extends work item validity windows.
// The initial window is set by the work generator at creation; this manager
// only ever extends it forward, never shortens it.
type ExpiryManager struct {
	incExpire time.Duration
}

// NewExpiryManager creates an expiry manager with the given extension
// increment. A zero increment makes Extend a no-op.
func NewExpiryManager(incExpire time.Duration) *ExpiryManager {
	return &ExpiryManager{incExpire: incExpire}
}

// IsExpired reports whether the item's validity window has passed.
func (m *ExpiryManager) IsExpired(w *work.Item, now time.Time) bool {
	return now.After(w.ExpiresAt)
}

// Extend pushes the expiry forward to max(expires_at, now) + increment.
// Invoked only on a successful dispatch. The resulting expiry is always
// greater than or equal to the prior one.
func (m *ExpiryManager) Extend(w *work.Item, now time.Time) {
	if m.incExpire == 0 {
		return
	}
	base := w.ExpiresAt
	if now.After(base) {
		base = now
	}
	w.ExpiresAt = base.Add(m.incExpire)
}
