// Package generator turns upstream work announcements into pending work
// items. It is the write side of the work store; the dispatch engine only
// ever transitions items the generator created.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mineproxy/gmp/internal/config"
	"github.com/mineproxy/gmp/internal/metrics"
	"github.com/mineproxy/gmp/internal/store"
	"github.com/mineproxy/gmp/internal/work"
	"github.com/mineproxy/gmp/pkg/log"
)

// dedupeCap bounds the recently-seen announcement set.
const dedupeCap = 4096

// Announcement is one upstream work notification. Upstream nodes may
// re-announce the same work; Header plus BlockNum identifies it.
type Announcement struct {
	Header   string  `json:"header"`
	BlockNum uint64  `json:"block_num"`
	Boundary string  `json:"boundary"`
	NodeKey  string  `json:"node_key"`
	Fee      float64 `json:"fee"`
	// TimeoutSeconds optionally overrides the configured base expiry.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Generator creates pending work items from announcements.
type Generator struct {
	cfg    *config.Config
	logger *log.Logger
	store  store.Store
	now    func() time.Time

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// New creates a generator writing to the given store.
func New(cfg *config.Config, logger *log.Logger, st store.Store) *Generator {
	return &Generator{
		cfg:    cfg,
		logger: logger.WithComponent("generator"),
		store:  st,
		now:    time.Now,
		seen:   make(map[string]struct{}),
	}
}

// HandleAnnouncement decodes one announcement and persists a pending work
// item for it. Re-announcements of work already seen are dropped.
func (g *Generator) HandleAnnouncement(ctx context.Context, data []byte) error {
	var ann Announcement
	if err := json.Unmarshal(data, &ann); err != nil {
		return fmt.Errorf("failed to decode announcement: %w", err)
	}

	if ann.Header == "" || ann.Boundary == "" {
		return fmt.Errorf("announcement missing header or boundary")
	}
	if ann.Fee < 0 {
		return fmt.Errorf("announcement carries negative fee %f", ann.Fee)
	}

	key := fmt.Sprintf("%s:%d", ann.Header, ann.BlockNum)
	if g.alreadySeen(key) {
		g.logger.Debug("dropping duplicate announcement",
			"header", ann.Header, "block_num", ann.BlockNum)
		return nil
	}

	now := g.now()
	validity := g.cfg.BaseExpire
	if ann.TimeoutSeconds > 0 {
		validity = time.Duration(ann.TimeoutSeconds) * time.Second
	}

	item := &work.Item{
		ID: uuid.NewString(),
		Payload: work.Payload{
			Header:   ann.Header,
			BlockNum: ann.BlockNum,
			Boundary: ann.Boundary,
			NodeKey:  ann.NodeKey,
		},
		Fee:       ann.Fee,
		CreatedAt: now,
		ExpiresAt: now.Add(validity),
		State:     work.StatePending,
	}

	storeCtx, cancel := context.WithTimeout(ctx, g.cfg.StoreTimeout)
	defer cancel()

	if err := g.store.Put(storeCtx, item); err != nil {
		g.forget(key)
		return fmt.Errorf("failed to persist work item: %w", err)
	}

	metrics.WorkItemsCreated.Inc()
	g.logger.Info("work item created",
		"work_id", item.ID,
		"block_num", ann.BlockNum,
		"fee", ann.Fee,
		"expires_at", item.ExpiresAt,
	)

	return nil
}

// alreadySeen records the key and reports whether it was present. The set is
// bounded; oldest entries fall out first.
func (g *Generator) alreadySeen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[key]; ok {
		return true
	}

	g.seen[key] = struct{}{}
	g.order = append(g.order, key)
	if len(g.order) > dedupeCap {
		delete(g.seen, g.order[0])
		g.order = g.order[1:]
	}
	return false
}

// forget drops a key so a failed persist can be retried on re-announcement.
func (g *Generator) forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, key)
}
