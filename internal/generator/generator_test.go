package generator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mineproxy/gmp/internal/config"
	"github.com/mineproxy/gmp/internal/store/memory"
	"github.com/mineproxy/gmp/internal/work"
	"github.com/mineproxy/gmp/pkg/log"
)

var genTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestGenerator(st *memory.Store) *Generator {
	cfg := &config.Config{
		BaseExpire:   2 * time.Minute,
		StoreTimeout: 3 * time.Second,
	}
	g := New(cfg, log.New("gmp-test", "test", "error", "text"), st)
	g.now = func() time.Time { return genTime }
	return g
}

func announce(t *testing.T, g *Generator, ann Announcement) {
	t.Helper()
	data, err := json.Marshal(ann)
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}
	if err := g.HandleAnnouncement(context.Background(), data); err != nil {
		t.Fatalf("HandleAnnouncement() error = %v", err)
	}
}

func TestHandleAnnouncementCreatesPendingItem(t *testing.T) {
	st := memory.New()
	g := newTestGenerator(st)

	announce(t, g, Announcement{
		Header:   "1f3a",
		BlockNum: 4242,
		Boundary: "0000ffff",
		NodeKey:  "02ab",
		Fee:      1.5,
	})

	items, err := st.ListCandidates(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}

	item := items[0]
	if item.State != work.StatePending {
		t.Errorf("state = %s, want pending", item.State)
	}
	if item.DispatchCount != 0 {
		t.Errorf("dispatch count = %d, want 0", item.DispatchCount)
	}
	if item.Fee != 1.5 {
		t.Errorf("fee = %f, want 1.5", item.Fee)
	}
	if item.Payload.Header != "1f3a" || item.Payload.BlockNum != 4242 {
		t.Errorf("payload = %+v, want announced values", item.Payload)
	}
	if !item.ExpiresAt.Equal(genTime.Add(2 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want created + base expiry", item.ExpiresAt)
	}
	if item.ID == "" {
		t.Error("item must get a generated id")
	}
}

func TestHandleAnnouncementTimeoutOverride(t *testing.T) {
	st := memory.New()
	g := newTestGenerator(st)

	announce(t, g, Announcement{
		Header:         "1f3a",
		BlockNum:       1,
		Boundary:       "ff",
		Fee:            1,
		TimeoutSeconds: 45,
	})

	items, _ := st.ListCandidates(context.Background(), 10)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if !items[0].ExpiresAt.Equal(genTime.Add(45 * time.Second)) {
		t.Errorf("ExpiresAt = %v, want created + announced timeout", items[0].ExpiresAt)
	}
}

func TestHandleAnnouncementDeduplicates(t *testing.T) {
	st := memory.New()
	g := newTestGenerator(st)

	ann := Announcement{Header: "1f3a", BlockNum: 7, Boundary: "ff", Fee: 1}
	announce(t, g, ann)
	announce(t, g, ann)

	// same header at a different height is new work
	ann.BlockNum = 8
	announce(t, g, ann)

	items, _ := st.ListCandidates(context.Background(), 10)
	if len(items) != 2 {
		t.Errorf("got %d items, want 2 after dedupe", len(items))
	}
}

func TestHandleAnnouncementRejectsMalformed(t *testing.T) {
	g := newTestGenerator(memory.New())

	tests := []struct {
		name string
		data string
	}{
		{"not json", `{broken`},
		{"missing header", `{"boundary":"ff","fee":1}`},
		{"missing boundary", `{"header":"1f","fee":1}`},
		{"negative fee", `{"header":"1f","boundary":"ff","fee":-0.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := g.HandleAnnouncement(context.Background(), []byte(tt.data)); err == nil {
				t.Error("HandleAnnouncement() should fail")
			}
		})
	}
}
