package dlob

import (
	"testing"

	"dlobflow/models"
)

func TestStoreUnknownMarketIsEmpty(t *testing.T) {
	s := NewStore()
	snap := s.StateForMarket(models.NewPerpMarketId(42))
	if snap.Bids == nil || snap.Asks == nil {
		t.Fatal("empty snapshot must have non-nil sides")
	}
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Errorf("unknown market should be empty, got %+v", snap)
	}
	if price := s.ServerOraclePriceForMarket(models.NewPerpMarketId(42)); price != 0 {
		t.Errorf("unknown market oracle price should be 0, got %d", price)
	}
}

func TestStoreApplySnapshot(t *testing.T) {
	s := NewStore()
	id := models.NewPerpMarketId(0)

	var notified []string
	s.OnChange(func(m models.MarketId) { notified = append(notified, m.Key()) })

	snap := models.L2Snapshot{
		Bids: []models.L2Level{models.SingleSourceLevel(100, 5, models.SourceDlob)},
		Asks: []models.L2Level{models.SingleSourceLevel(110, 3, models.SourceDlob)},
		Slot: 7,
	}
	s.ApplySnapshot(id, snap)

	got := s.StateForMarket(id)
	if got.Slot != 7 || len(got.Bids) != 1 || len(got.Asks) != 1 {
		t.Errorf("unexpected stored snapshot: %+v", got)
	}
	if len(notified) != 1 || notified[0] != "perp_0" {
		t.Errorf("unexpected notifications: %v", notified)
	}
	if _, ok := s.UpdatedAt(id); !ok {
		t.Error("UpdatedAt should report the applied market")
	}
}

func TestStoreOracleGateSharedAcrossTransports(t *testing.T) {
	s := NewStore()
	id := models.NewPerpMarketId(2)

	// Polled update lands first at a high slot.
	if !s.ApplyOracle(id, models.OraclePriceData{Price: 200, Slot: 100}) {
		t.Fatal("first oracle update should be accepted")
	}
	// A late streaming message from an earlier slot must be dropped by
	// the same guard.
	if s.ApplyOracle(id, models.OraclePriceData{Price: 150, Slot: 90}) {
		t.Error("regressed slot should be rejected regardless of transport")
	}
	if got := s.OracleForMarket(id).Price; got != 200 {
		t.Errorf("oracle price regressed: %d", got)
	}

	stats := s.Stats()
	if stats.OracleAccepted != 1 || stats.OracleRejected != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestStoreMarkets(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot(models.NewPerpMarketId(0), models.EmptyL2Snapshot())
	s.ApplySnapshot(models.NewSpotMarketId(1), models.EmptyL2Snapshot())

	keys := s.Markets()
	if len(keys) != 2 {
		t.Errorf("expected 2 markets, got %v", keys)
	}
}
