package dlob

import (
	"sync"
	"time"

	"dlobflow/models"
)

// StoreStats are cumulative counters over a store's lifetime.
type StoreStats struct {
	SnapshotsApplied int64
	OracleAccepted   int64
	OracleRejected   int64
}

// Store is the externally observable orderbook state: the merged L2
// view plus the server-reported oracle price per market. It performs
// no network I/O; the synchronization paths push into it and consumers
// pull snapshots or register change callbacks.
type Store struct {
	mu        sync.RWMutex
	books     map[string]models.L2Snapshot
	updatedAt map[string]time.Time
	oracles   *OracleStore
	onChange  []func(models.MarketId)
	applied   int64
}

func NewStore() *Store {
	return &Store{
		books:     make(map[string]models.L2Snapshot),
		updatedAt: make(map[string]time.Time),
		oracles:   NewOracleStore(),
	}
}

// OnChange registers a callback invoked after each applied book
// snapshot. Register before starting any sync path.
func (s *Store) OnChange(fn func(models.MarketId)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// ApplySnapshot overwrites a market's merged book.
func (s *Store) ApplySnapshot(id models.MarketId, snap models.L2Snapshot) {
	s.mu.Lock()
	s.books[id.Key()] = snap
	s.updatedAt[id.Key()] = time.Now()
	s.applied++
	callbacks := s.onChange
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(id)
	}
}

// ApplyOracle routes oracle data through the slot-gated oracle store.
// The same guard applies regardless of which transport produced the
// update, so a streaming message that regresses the slot is dropped
// just like a stale polled one.
func (s *Store) ApplyOracle(id models.MarketId, data models.OraclePriceData) bool {
	return s.oracles.Update(id, data)
}

// StateForMarket returns the merged book for a market, or an empty
// snapshot when the market is unknown. It never fails.
func (s *Store) StateForMarket(id models.MarketId) models.L2Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.books[id.Key()]; ok {
		return snap
	}
	return models.EmptyL2Snapshot()
}

// ServerOraclePriceForMarket returns the latest accepted oracle price,
// zero when unknown.
func (s *Store) ServerOraclePriceForMarket(id models.MarketId) int64 {
	return s.oracles.Get(id).Price
}

// OracleForMarket returns the full oracle record, zero-valued when
// unknown.
func (s *Store) OracleForMarket(id models.MarketId) models.OraclePriceData {
	return s.oracles.Get(id)
}

// OnOracleChange forwards to the underlying oracle store.
func (s *Store) OnOracleChange(fn func(models.MarketId, models.OraclePriceData)) {
	s.oracles.OnChange(fn)
}

// UpdatedAt reports when a market's book was last overwritten.
func (s *Store) UpdatedAt(id models.MarketId) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.updatedAt[id.Key()]
	return ts, ok
}

// Markets lists every market key with a stored book.
func (s *Store) Markets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.books))
	for k := range s.books {
		keys = append(keys, k)
	}
	return keys
}

// Stats snapshots the cumulative counters.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	applied := s.applied
	s.mu.RUnlock()
	accepted, rejected := s.oracles.Stats()
	return StoreStats{SnapshotsApplied: applied, OracleAccepted: accepted, OracleRejected: rejected}
}
