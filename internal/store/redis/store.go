// Package redis provides the production work store for the GMP proxy.
// Work records are JSON values keyed by id, candidates are indexed in a
// sorted set scored by creation time for FIFO scans, and every conditional
// update runs as a Lua script so the version guard and the write are one
// atomic step even with multiple engine instances sharing the store.
package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mineproxy/gmp/internal/store"
	"github.com/mineproxy/gmp/internal/verify"
	"github.com/mineproxy/gmp/internal/work"
)

// Client wraps redis operations for the work store.
type Client struct {
	rdb *redis.Client
	cas *redis.Script
}

// Config holds redis connection configuration.
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	candidateIndexKey = "work:candidates"
)

func workKey(id string) string {
	return fmt.Sprintf("work:%s", id)
}

func minerKeyKey(minerID string) string {
	return fmt.Sprintf("miner:%s:key", minerID)
}

func invalidCounterKey(minerID string) string {
	return fmt.Sprintf("miner:%s:invalid", minerID)
}

// casScript compares the embedded version of the stored record with the
// expected one and replaces the value only on a match. Terminal records are
// dropped from the candidate index in the same atomic step.
//
// KEYS[1] = work key, KEYS[2] = candidate index
// ARGV[1] = expected version, ARGV[2] = new JSON, ARGV[3] = terminal flag, ARGV[4] = work id
// Returns 1 on success, 0 on version conflict, -1 when the record is gone.
const casScript = `
local cur = redis.call('GET', KEYS[1])
if not cur then
  return -1
end
local obj = cjson.decode(cur)
if tonumber(obj['version']) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2])
if ARGV[3] == '1' then
  redis.call('ZREM', KEYS[2], ARGV[4])
end
return 1
`

// NewClient creates a new redis work store client.
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Client{
		rdb: rdb,
		cas: redis.NewScript(casScript),
	}, nil
}

// Close closes the redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks redis connectivity.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get loads a work item by id.
func (c *Client) Get(ctx context.Context, id string) (*work.Item, error) {
	data, err := c.rdb.Get(ctx, workKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}

	var item work.Item
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal work item: %w", err)
	}
	return &item, nil
}

// Put creates a work item with version 1 and indexes it as a candidate.
func (c *Client) Put(ctx context.Context, item *work.Item) error {
	item.Version = 1

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, workKey(item.ID), data, 0)
	pipe.ZAdd(ctx, candidateIndexKey, redis.Z{
		Score:  float64(item.CreatedAt.UnixNano()),
		Member: item.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to put work item: %w", err)
	}
	return nil
}

// ListCandidates returns up to limit non-terminal items, earliest created
// first. Index entries whose record has vanished are dropped lazily.
func (c *Client) ListCandidates(ctx context.Context, limit int) ([]*work.Item, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := c.rdb.ZRange(ctx, candidateIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan candidate index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = workKey(id)
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	candidates := make([]*work.Item, 0, len(values))
	for i, val := range values {
		raw, ok := val.(string)
		if !ok {
			// record expired or was deleted out of band
			c.rdb.ZRem(ctx, candidateIndexKey, ids[i])
			continue
		}

		var item work.Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candidate %s: %w", ids[i], err)
		}
		if item.State.Terminal() {
			c.rdb.ZRem(ctx, candidateIndexKey, item.ID)
			continue
		}
		candidates = append(candidates, &item)
	}

	return candidates, nil
}

// CompareAndUpdate atomically replaces the stored record iff the version
// guard holds, bumping item.Version on success.
func (c *Client) CompareAndUpdate(ctx context.Context, expectedVersion int64, item *work.Item) error {
	next := item.Clone()
	next.Version = expectedVersion + 1

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	terminal := "0"
	if next.State.Terminal() {
		terminal = "1"
	}

	res, err := c.cas.Run(ctx,
		c.rdb,
		[]string{workKey(item.ID), candidateIndexKey},
		expectedVersion, string(data), terminal, item.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to run compare-and-update: %w", err)
	}

	switch res {
	case 1:
		item.Version = next.Version
		return nil
	case 0:
		return store.ErrVersionConflict
	default:
		return store.ErrNotFound
	}
}

// RegisterMiner stores a miner's public credential.
func (c *Client) RegisterMiner(ctx context.Context, minerID string, pubKey []byte) error {
	if err := c.rdb.Set(ctx, minerKeyKey(minerID), hex.EncodeToString(pubKey), 0).Err(); err != nil {
		return fmt.Errorf("failed to register miner key: %w", err)
	}
	return nil
}

// MinerKey resolves a miner's public credential.
func (c *Client) MinerKey(ctx context.Context, minerID string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, minerKeyKey(minerID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, verify.ErrUnknownMiner
		}
		return nil, fmt.Errorf("failed to get miner key: %w", err)
	}

	key, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode miner key: %w", err)
	}
	return key, nil
}

// IncrInvalid increments the per-miner invalid submission counter with a
// rolling expiry, returning the new count.
func (c *Client) IncrInvalid(ctx context.Context, minerID string, window time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, invalidCounterKey(minerID))
	pipe.Expire(ctx, invalidCounterKey(minerID), window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment invalid counter: %w", err)
	}
	return incrCmd.Val(), nil
}
