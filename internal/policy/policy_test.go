package policy

import (
	"math"
	"testing"
	"time"

	"github.com/mineproxy/gmp/internal/work"
)

func newItem(fee float64, count int, state work.State) *work.Item {
	now := time.Now()
	return &work.Item{
		ID:            "w-1",
		Fee:           fee,
		DispatchCount: count,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Minute),
		State:         state,
	}
}

func TestFeePolicy(t *testing.T) {
	tests := []struct {
		name     string
		minFee   float64
		fee      float64
		eligible bool
	}{
		{"fee above floor", 1.0, 2.0, true},
		{"fee exactly at floor", 1.0, 1.0, true},
		{"fee epsilon below floor", 1.0, 1.0 - 1e-9, false},
		{"fee below floor", 1.0, 0.5, false},
		{"zero floor admits zero fee", 0, 0, true},
		{"zero floor admits any fee", 0, math.SmallestNonzeroFloat64, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewFeePolicy(tt.minFee)
			if got := p.Eligible(newItem(tt.fee, 0, work.StatePending)); got != tt.eligible {
				t.Errorf("Eligible() = %v, want %v", got, tt.eligible)
			}
		})
	}
}

func TestDispatchLimiter_CanDispatch(t *testing.T) {
	l := NewDispatchLimiter(2)

	if !l.CanDispatch(newItem(1, 0, work.StatePending)) {
		t.Error("fresh item should be dispatchable")
	}
	if !l.CanDispatch(newItem(1, 1, work.StateDispatched)) {
		t.Error("item under the limit should be dispatchable")
	}
	if l.CanDispatch(newItem(1, 2, work.StateDispatched)) {
		t.Error("item at the limit should not be dispatchable")
	}
}

func TestDispatchLimiter_RecordDispatch(t *testing.T) {
	l := NewDispatchLimiter(2)

	w := newItem(1, 0, work.StatePending)
	if err := l.RecordDispatch(w); err != nil {
		t.Fatalf("RecordDispatch() error = %v", err)
	}
	if w.DispatchCount != 1 {
		t.Errorf("DispatchCount = %d, want 1", w.DispatchCount)
	}
	if w.State != work.StateDispatched {
		t.Errorf("State = %v, want dispatched", w.State)
	}

	if err := l.RecordDispatch(w); err != nil {
		t.Fatalf("second RecordDispatch() error = %v", err)
	}

	if err := l.RecordDispatch(w); err != ErrLimitExceeded {
		t.Errorf("RecordDispatch() at limit = %v, want ErrLimitExceeded", err)
	}
	if w.DispatchCount != 2 {
		t.Errorf("failed RecordDispatch must not mutate the item, count = %d", w.DispatchCount)
	}
}

func TestDispatchLimiter_RejectsTerminalStates(t *testing.T) {
	l := NewDispatchLimiter(5)

	for _, state := range []work.State{work.StateAccepted, work.StateRejected, work.StateExpired} {
		w := newItem(1, 1, state)
		if err := l.RecordDispatch(w); err != ErrLimitExceeded {
			t.Errorf("RecordDispatch(%v) = %v, want ErrLimitExceeded", state, err)
		}
	}
}

func TestExpiryManager_IsExpired(t *testing.T) {
	m := NewExpiryManager(time.Minute)
	now := time.Now()

	w := newItem(1, 0, work.StatePending)
	w.ExpiresAt = now

	if m.IsExpired(w, now) {
		t.Error("item is valid through its exact expiry instant")
	}
	if !m.IsExpired(w, now.Add(time.Nanosecond)) {
		t.Error("item past its expiry should be expired")
	}
}

func TestExpiryManager_Extend(t *testing.T) {
	now := time.Now()

	t.Run("extends from future expiry", func(t *testing.T) {
		m := NewExpiryManager(30 * time.Second)
		w := newItem(1, 0, work.StatePending)
		w.ExpiresAt = now.Add(time.Minute)

		m.Extend(w, now)
		want := now.Add(time.Minute + 30*time.Second)
		if !w.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", w.ExpiresAt, want)
		}
	})

	t.Run("extends from now when already past expiry", func(t *testing.T) {
		m := NewExpiryManager(30 * time.Second)
		w := newItem(1, 0, work.StatePending)
		w.ExpiresAt = now.Add(-time.Minute)

		m.Extend(w, now)
		want := now.Add(30 * time.Second)
		if !w.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", w.ExpiresAt, want)
		}
	})

	t.Run("zero increment is a no-op", func(t *testing.T) {
		m := NewExpiryManager(0)
		w := newItem(1, 0, work.StatePending)
		before := w.ExpiresAt

		m.Extend(w, now)
		if !w.ExpiresAt.Equal(before) {
			t.Errorf("ExpiresAt changed with zero increment: %v != %v", w.ExpiresAt, before)
		}
	})

	t.Run("expiry is monotonically non-decreasing", func(t *testing.T) {
		m := NewExpiryManager(10 * time.Second)
		w := newItem(1, 0, work.StatePending)

		prev := w.ExpiresAt
		for i := 0; i < 20; i++ {
			m.Extend(w, now.Add(time.Duration(i)*time.Second))
			if w.ExpiresAt.Before(prev) {
				t.Fatalf("expiry decreased from %v to %v", prev, w.ExpiresAt)
			}
			prev = w.ExpiresAt
		}
	})
}
