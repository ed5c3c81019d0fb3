package models

import (
	"fmt"
	"strconv"
	"strings"
)

// MarketType distinguishes perpetual and spot markets.
type MarketType string

const (
	MarketTypePerp MarketType = "perp"
	MarketTypeSpot MarketType = "spot"
)

// Fixed-point precisions used by the protocol's account encoding.
// Prices and quote amounts carry PricePrecision, base sizes BasePrecision.
const (
	PricePrecision int64 = 1_000_000
	BasePrecision  int64 = 1_000_000_000
	QuotePrecision int64 = 1_000_000
)

// MarketId identifies one market. It is a value type: copy freely,
// compare with ==, use Key() as a map key.
type MarketId struct {
	MarketIndex uint16
	MarketType  MarketType
}

func NewPerpMarketId(index uint16) MarketId {
	return MarketId{MarketIndex: index, MarketType: MarketTypePerp}
}

func NewSpotMarketId(index uint16) MarketId {
	return MarketId{MarketIndex: index, MarketType: MarketTypeSpot}
}

// Key returns the canonical string form, e.g. "perp_0". ParseMarketKey
// is its left inverse.
func (m MarketId) Key() string {
	return fmt.Sprintf("%s_%d", m.MarketType, m.MarketIndex)
}

func (m MarketId) String() string {
	return m.Key()
}

// ParseMarketKey parses a key produced by MarketId.Key.
func ParseMarketKey(key string) (MarketId, error) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return MarketId{}, fmt.Errorf("malformed market key %q", key)
	}
	var mt MarketType
	switch parts[0] {
	case string(MarketTypePerp):
		mt = MarketTypePerp
	case string(MarketTypeSpot):
		mt = MarketTypeSpot
	default:
		return MarketId{}, fmt.Errorf("malformed market key %q: unknown market type %q", key, parts[0])
	}
	index, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return MarketId{}, fmt.Errorf("malformed market key %q: %w", key, err)
	}
	return MarketId{MarketIndex: uint16(index), MarketType: mt}, nil
}
