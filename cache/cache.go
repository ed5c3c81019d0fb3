// Package cache persists merged snapshots into Redis so restarted or
// sibling processes can serve a recent book immediately.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dlobflow/logger"
	"dlobflow/models"
)

// WritePolicy decides which snapshots a write method accepts. Every
// write checks the policy first and returns ErrWritesDisabled when the
// policy forbids it.
type WritePolicy int

const (
	// WriteDisabled rejects every write. Read-only consumers use this.
	WriteDisabled WritePolicy = iota
	// WriteAlways persists every snapshot handed to the cache.
	WriteAlways
	// WriteOnChange persists only snapshots whose slot advanced past
	// the last written one for the market.
	WriteOnChange
)

// ErrWritesDisabled is returned by write methods when the policy is
// WriteDisabled.
var ErrWritesDisabled = fmt.Errorf("cache: writes disabled by policy")

// ParseWritePolicy maps a config string to a WritePolicy. Empty input
// means WriteAlways.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch s {
	case "", "always":
		return WriteAlways, nil
	case "on_change":
		return WriteOnChange, nil
	case "disabled":
		return WriteDisabled, nil
	default:
		return WriteDisabled, fmt.Errorf("cache: unknown write policy %q", s)
	}
}

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
	Policy    WritePolicy
}

// Cache is a Redis-backed snapshot store. Zero value is not usable;
// construct with New.
type Cache struct {
	rdb       redis.Cmdable
	keyPrefix string
	ttl       time.Duration
	policy    WritePolicy
	log       *logger.Log

	mu        sync.Mutex
	lastSlots map[string]uint64
}

func New(cfg Config) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newWithClient(rdb, cfg)
}

// NewWithClient plugs in an existing client, typically a test double.
func NewWithClient(rdb redis.Cmdable, cfg Config) *Cache {
	return newWithClient(rdb, cfg)
}

func newWithClient(rdb redis.Cmdable, cfg Config) *Cache {
	return &Cache{
		rdb:       rdb,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		policy:    cfg.Policy,
		log:       logger.GetLogger(),
		lastSlots: make(map[string]uint64),
	}
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

type cachedSnapshot struct {
	Bids   []models.L2Level        `json:"bids"`
	Asks   []models.L2Level        `json:"asks"`
	Slot   uint64                  `json:"slot"`
	Oracle *models.OraclePriceData `json:"oracle,omitempty"`
	TS     int64                   `json:"ts"`
}

// WriteSnapshot persists a merged snapshot for the market. The policy
// is consulted before anything is serialized.
func (c *Cache) WriteSnapshot(ctx context.Context, market models.MarketId, snap models.L2Snapshot, oracle *models.OraclePriceData) error {
	switch c.policy {
	case WriteDisabled:
		return ErrWritesDisabled
	case WriteOnChange:
		if !c.slotAdvanced(market.Key(), snap.Slot) {
			return nil
		}
	}

	payload, err := json.Marshal(cachedSnapshot{
		Bids:   snap.Bids,
		Asks:   snap.Asks,
		Slot:   snap.Slot,
		Oracle: oracle,
		TS:     time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot: %w", err)
	}

	key := c.snapshotKey(market)
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	logger.IncrementCacheWrite(int64(len(payload)))
	return nil
}

// WriteOracle persists the latest oracle reading for the market.
func (c *Cache) WriteOracle(ctx context.Context, market models.MarketId, oracle models.OraclePriceData) error {
	if c.policy == WriteDisabled {
		return ErrWritesDisabled
	}

	payload, err := json.Marshal(oracle)
	if err != nil {
		return fmt.Errorf("cache: marshal oracle: %w", err)
	}
	key := c.oracleKey(market)
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	logger.IncrementCacheWrite(int64(len(payload)))
	return nil
}

// ReadSnapshot loads the cached snapshot for the market. A cache miss
// returns an empty snapshot, a nil oracle and found=false.
func (c *Cache) ReadSnapshot(ctx context.Context, market models.MarketId) (models.L2Snapshot, *models.OraclePriceData, bool, error) {
	raw, err := c.rdb.Get(ctx, c.snapshotKey(market)).Bytes()
	if err == redis.Nil {
		return models.EmptyL2Snapshot(), nil, false, nil
	}
	if err != nil {
		return models.EmptyL2Snapshot(), nil, false, fmt.Errorf("cache: get snapshot: %w", err)
	}
	var cached cachedSnapshot
	if err := json.Unmarshal(raw, &cached); err != nil {
		return models.EmptyL2Snapshot(), nil, false, fmt.Errorf("cache: decode snapshot: %w", err)
	}
	snap := models.L2Snapshot{Bids: cached.Bids, Asks: cached.Asks, Slot: cached.Slot}
	return snap, cached.Oracle, true, nil
}

func (c *Cache) snapshotKey(market models.MarketId) string {
	return fmt.Sprintf("%sl2:%s", c.keyPrefix, market.Key())
}

func (c *Cache) oracleKey(market models.MarketId) string {
	return fmt.Sprintf("%soracle:%s", c.keyPrefix, market.Key())
}

func (c *Cache) slotAdvanced(key string, slot uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastSlots[key]; ok && slot <= last {
		return false
	}
	c.lastSlots[key] = slot
	return true
}
