package dlob

import (
	"sync"

	"dlobflow/models"
)

// OracleStore keeps the latest oracle price per market, ordered by
// blockchain slot rather than arrival time. An update whose slot is
// below the stored one is silently dropped; equal slots keep the newer
// write. Change callbacks fire only when an update is accepted.
type OracleStore struct {
	mu       sync.RWMutex
	prices   map[string]models.OraclePriceData
	onChange []func(models.MarketId, models.OraclePriceData)
	accepted int64
	rejected int64
}

func NewOracleStore() *OracleStore {
	return &OracleStore{prices: make(map[string]models.OraclePriceData)}
}

// OnChange registers a callback invoked after every accepted update.
// Must be called before updates start flowing.
func (s *OracleStore) OnChange(fn func(models.MarketId, models.OraclePriceData)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Update applies oracle data for a market if its slot has not
// regressed. Returns whether the update was accepted.
func (s *OracleStore) Update(id models.MarketId, data models.OraclePriceData) bool {
	s.mu.Lock()
	current, exists := s.prices[id.Key()]
	if exists && data.Slot < current.Slot {
		s.rejected++
		s.mu.Unlock()
		return false
	}
	s.prices[id.Key()] = data
	s.accepted++
	callbacks := s.onChange
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(id, data)
	}
	return true
}

// Get returns the stored oracle data, or the zero value when nothing
// has been seen for the market. A zero price means "unknown", never a
// valid quote.
func (s *OracleStore) Get(id models.MarketId) models.OraclePriceData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices[id.Key()]
}

// Stats reports accepted and rejected update counts.
func (s *OracleStore) Stats() (accepted, rejected int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepted, s.rejected
}
