package memory

import (
	"context"
	"testing"
	"time"

	"github.com/mineproxy/gmp/internal/store"
	"github.com/mineproxy/gmp/internal/verify"
	"github.com/mineproxy/gmp/internal/work"
)

func newItem(id string, createdAt time.Time) *work.Item {
	return &work.Item{
		ID: id,
		Payload: work.Payload{
			Header:   "aa11",
			BlockNum: 42,
			Boundary: "ff00",
			NodeKey:  "02bb",
		},
		Fee:       1.5,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(time.Minute),
		State:     work.StatePending,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	item := newItem("w-1", time.Now())
	if err := s.Put(ctx, item); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get(ctx, "w-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got.ID != item.ID || got.Payload != item.Payload || got.Fee != item.Fee {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, item)
	}
	if got.Version != 1 {
		t.Errorf("stored version = %d, want 1", got.Version)
	}
}

func TestGetNotFound(t *testing.T) {
	s := New()

	_, err := s.Get(context.Background(), "missing")
	if err != store.ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestListCandidatesFIFO(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	// insert out of creation order
	for _, spec := range []struct {
		id     string
		offset time.Duration
	}{
		{"w-3", 2 * time.Second},
		{"w-1", 0},
		{"w-2", time.Second},
	} {
		if err := s.Put(ctx, newItem(spec.id, base.Add(spec.offset))); err != nil {
			t.Fatalf("Put(%s) error = %v", spec.id, err)
		}
	}

	got, err := s.ListCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}

	want := []string{"w-1", "w-2", "w-3"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("candidate[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestListCandidatesExcludesTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()

	item := newItem("w-1", time.Now())
	if err := s.Put(ctx, item); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	item.State = work.StateExpired
	if err := s.CompareAndUpdate(ctx, 1, item); err != nil {
		t.Fatalf("CompareAndUpdate() error = %v", err)
	}

	got, err := s.ListCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("terminal items must not be candidates, got %d", len(got))
	}
}

func TestCompareAndUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	item := newItem("w-1", time.Now())
	if err := s.Put(ctx, item); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	item.DispatchCount = 1
	item.State = work.StateDispatched
	if err := s.CompareAndUpdate(ctx, 1, item); err != nil {
		t.Fatalf("CompareAndUpdate() error = %v", err)
	}
	if item.Version != 2 {
		t.Errorf("Version = %d, want 2", item.Version)
	}

	// stale guard loses
	stale := item.Clone()
	stale.DispatchCount = 99
	if err := s.CompareAndUpdate(ctx, 1, stale); err != store.ErrVersionConflict {
		t.Errorf("CompareAndUpdate() with stale version = %v, want ErrVersionConflict", err)
	}

	got, err := s.Get(ctx, "w-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DispatchCount != 1 {
		t.Errorf("losing update must not be applied, count = %d", got.DispatchCount)
	}

	missing := newItem("ghost", time.Now())
	if err := s.CompareAndUpdate(ctx, 1, missing); err != store.ErrNotFound {
		t.Errorf("CompareAndUpdate() on missing item = %v, want ErrNotFound", err)
	}
}

func TestMinerCredentials(t *testing.T) {
	s := New()
	ctx := context.Background()

	key := []byte{0x02, 0xaa, 0xbb}
	if err := s.RegisterMiner(ctx, "miner-1", key); err != nil {
		t.Fatalf("RegisterMiner() error = %v", err)
	}

	got, err := s.MinerKey(ctx, "miner-1")
	if err != nil {
		t.Fatalf("MinerKey() error = %v", err)
	}
	if string(got) != string(key) {
		t.Errorf("MinerKey() = %x, want %x", got, key)
	}

	if _, err := s.MinerKey(ctx, "stranger"); err != verify.ErrUnknownMiner {
		t.Errorf("MinerKey() for stranger = %v, want ErrUnknownMiner", err)
	}
}

func TestIncrInvalid(t *testing.T) {
	s := New()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrInvalid(ctx, "miner-1", time.Minute)
		if err != nil {
			t.Fatalf("IncrInvalid() error = %v", err)
		}
		if got != want {
			t.Errorf("IncrInvalid() = %d, want %d", got, want)
		}
	}
}
