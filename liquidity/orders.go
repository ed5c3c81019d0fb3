package liquidity

import (
	"sort"
	"sync"

	"dlobflow/models"
	"dlobflow/protocol"
)

// OrderSource exposes the on-chain resting limit orders as an L2
// view. The order set is kept fresh by the account subscription layer
// through SetOrders; whether an order is resting at the current slot
// is decided by the injected RestingLimitFn, not re-derived here.
type OrderSource struct {
	mu      sync.RWMutex
	orders  map[string][]protocol.Order
	oracles protocol.OraclePriceProvider
	slots   protocol.SlotProvider
	resting protocol.RestingLimitFn
}

func NewOrderSource(oracles protocol.OraclePriceProvider, slots protocol.SlotProvider, resting protocol.RestingLimitFn) *OrderSource {
	return &OrderSource{
		orders:  make(map[string][]protocol.Order),
		oracles: oracles,
		slots:   slots,
		resting: resting,
	}
}

func (o *OrderSource) Name() string { return models.SourceDlob }

// SetOrders replaces the tracked order set for a market.
func (o *OrderSource) SetOrders(id models.MarketId, orders []protocol.Order) {
	o.mu.Lock()
	o.orders[id.Key()] = orders
	o.mu.Unlock()
}

func (o *OrderSource) Bids(id models.MarketId) []models.L2Level {
	return o.levels(id, protocol.DirectionLong)
}

func (o *OrderSource) Asks(id models.MarketId) []models.L2Level {
	return o.levels(id, protocol.DirectionShort)
}

func (o *OrderSource) levels(id models.MarketId, direction protocol.OrderDirection) []models.L2Level {
	o.mu.RLock()
	orders := o.orders[id.Key()]
	o.mu.RUnlock()
	if len(orders) == 0 {
		return []models.L2Level{}
	}

	slot := o.slots.Slot()
	oracle, _ := o.oracles.OraclePriceData(id)

	buckets := make(map[int64]int64)
	for _, order := range orders {
		if order.Direction != direction {
			continue
		}
		if !o.resting(order, slot, oracle) {
			continue
		}
		remaining := order.BaseRemaining()
		if remaining <= 0 {
			continue
		}
		price := order.LimitPrice(oracle.Price)
		if price <= 0 {
			continue
		}
		buckets[price] += remaining
	}

	levels := make([]models.L2Level, 0, len(buckets))
	for price, size := range buckets {
		levels = append(levels, models.SingleSourceLevel(price, size, models.SourceDlob))
	}
	sort.Slice(levels, func(i, j int) bool {
		if direction == protocol.DirectionLong {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}
