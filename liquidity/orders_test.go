package liquidity

import (
	"testing"

	"dlobflow/models"
	"dlobflow/protocol"
)

// restingBySlot treats an order as live liquidity once its placement
// slot has been reached.
func restingBySlot(order protocol.Order, slot uint64, _ models.OraclePriceData) bool {
	return order.Slot <= slot
}

func orderFixture() (*OrderSource, models.MarketId) {
	id := models.NewPerpMarketId(2)
	oracles := &fakeOracles{prices: map[string]models.OraclePriceData{
		id.Key(): {Price: 50 * models.PricePrecision, Slot: 90},
	}}
	src := NewOrderSource(oracles, &fakeSlots{slot: 100}, restingBySlot)
	return src, id
}

func TestOrderSourceEmptyWithoutOrders(t *testing.T) {
	src, id := orderFixture()
	if bids := src.Bids(id); len(bids) != 0 {
		t.Errorf("expected no bids, got %d", len(bids))
	}
	if asks := src.Asks(id); len(asks) != 0 {
		t.Errorf("expected no asks, got %d", len(asks))
	}
}

func TestOrderSourceBucketsAndSorts(t *testing.T) {
	src, id := orderFixture()
	src.SetOrders(id, []protocol.Order{
		{OrderId: 1, Direction: protocol.DirectionLong, Price: 49_000_000, BaseAssetAmount: 2_000_000_000, Slot: 10},
		{OrderId: 2, Direction: protocol.DirectionLong, Price: 49_000_000, BaseAssetAmount: 3_000_000_000, Slot: 20},
		{OrderId: 3, Direction: protocol.DirectionLong, Price: 48_000_000, BaseAssetAmount: 1_000_000_000, Slot: 30},
		{OrderId: 4, Direction: protocol.DirectionShort, Price: 51_000_000, BaseAssetAmount: 4_000_000_000, Slot: 40},
		{OrderId: 5, Direction: protocol.DirectionShort, Price: 52_000_000, BaseAssetAmount: 1_000_000_000, Slot: 40},
	})

	bids := src.Bids(id)
	if len(bids) != 2 {
		t.Fatalf("expected 2 bid levels, got %d", len(bids))
	}
	if bids[0].Price != 49_000_000 || bids[0].Size != 5_000_000_000 {
		t.Errorf("top bid = %+v, want 49000000 x 5000000000", bids[0])
	}
	if bids[1].Price != 48_000_000 || bids[1].Size != 1_000_000_000 {
		t.Errorf("second bid = %+v, want 48000000 x 1000000000", bids[1])
	}
	if bids[0].Sources[models.SourceDlob] != 5_000_000_000 {
		t.Errorf("bid not tagged as dlob liquidity: %+v", bids[0])
	}

	asks := src.Asks(id)
	if len(asks) != 2 {
		t.Fatalf("expected 2 ask levels, got %d", len(asks))
	}
	if asks[0].Price != 51_000_000 || asks[1].Price != 52_000_000 {
		t.Errorf("asks out of order: %+v", asks)
	}
}

func TestOrderSourceSkipsNonRestingAndFilled(t *testing.T) {
	src, id := orderFixture()
	src.SetOrders(id, []protocol.Order{
		// not yet resting at slot 100
		{OrderId: 1, Direction: protocol.DirectionLong, Price: 50_000_000, BaseAssetAmount: 1_000_000_000, Slot: 200},
		// fully filled
		{OrderId: 2, Direction: protocol.DirectionLong, Price: 49_500_000, BaseAssetAmount: 1_000_000_000, BaseAssetAmountFilled: 1_000_000_000, Slot: 10},
		{OrderId: 3, Direction: protocol.DirectionLong, Price: 49_000_000, BaseAssetAmount: 2_000_000_000, BaseAssetAmountFilled: 500_000_000, Slot: 10},
	})

	bids := src.Bids(id)
	if len(bids) != 1 {
		t.Fatalf("expected 1 bid level, got %d", len(bids))
	}
	if bids[0].Price != 49_000_000 || bids[0].Size != 1_500_000_000 {
		t.Errorf("bid = %+v, want remaining 1500000000 at 49000000", bids[0])
	}
}

func TestOrderSourceOracleOffsetOrders(t *testing.T) {
	src, id := orderFixture()
	src.SetOrders(id, []protocol.Order{
		{OrderId: 1, Direction: protocol.DirectionLong, OraclePriceOffset: -2_000_000, BaseAssetAmount: 1_000_000_000, Slot: 10},
	})

	bids := src.Bids(id)
	if len(bids) != 1 {
		t.Fatalf("expected 1 bid level, got %d", len(bids))
	}
	// oracle 50 with a -2 offset
	if bids[0].Price != 48_000_000 {
		t.Errorf("floating bid price = %d, want 48000000", bids[0].Price)
	}
}

func TestOrderSourceSetOrdersReplaces(t *testing.T) {
	src, id := orderFixture()
	src.SetOrders(id, []protocol.Order{
		{OrderId: 1, Direction: protocol.DirectionLong, Price: 49_000_000, BaseAssetAmount: 1_000_000_000, Slot: 10},
	})
	src.SetOrders(id, []protocol.Order{
		{OrderId: 2, Direction: protocol.DirectionShort, Price: 51_000_000, BaseAssetAmount: 1_000_000_000, Slot: 10},
	})

	if bids := src.Bids(id); len(bids) != 0 {
		t.Errorf("expected replaced order set to drop old bids, got %d", len(bids))
	}
	if asks := src.Asks(id); len(asks) != 1 {
		t.Errorf("expected 1 ask after replacement, got %d", len(asks))
	}
}
