package models

// Liquidity source names as they appear in per-level source maps and in
// remote payloads.
const (
	SourceVamm    = "vamm"
	SourceDlob    = "dlob"
	SourcePhoenix = "phoenix"
	SourceSerum   = "serum"
)

// L2Level is a single price level of an order book. Price carries
// PricePrecision, sizes BasePrecision. Size equals the sum of the
// per-source sizes; the merge engine recomputes it from Sources rather
// than trusting the field.
type L2Level struct {
	Price   int64            `json:"price"`
	Size    int64            `json:"size"`
	Sources map[string]int64 `json:"sources"`
}

// SingleSourceLevel builds a level attributed to one source.
func SingleSourceLevel(price, size int64, source string) L2Level {
	return L2Level{Price: price, Size: size, Sources: map[string]int64{source: size}}
}

// L2Snapshot is a point-in-time view of one market's book. Bids are
// price-descending, asks price-ascending, no duplicate prices within a
// side. Slot is zero when the snapshot carries no slot information.
type L2Snapshot struct {
	Bids []L2Level `json:"bids"`
	Asks []L2Level `json:"asks"`
	Slot uint64    `json:"slot,omitempty"`
}

// EmptyL2Snapshot is the documented default for unknown markets.
func EmptyL2Snapshot() L2Snapshot {
	return L2Snapshot{Bids: []L2Level{}, Asks: []L2Level{}}
}

// OraclePriceData is the latest known oracle state for a market. The
// zero value means "unknown": a zero price is never a valid quote.
type OraclePriceData struct {
	Price                           int64  `json:"price"`
	Slot                            uint64 `json:"slot"`
	Confidence                      int64  `json:"confidence"`
	Twap                            int64  `json:"twap"`
	TwapConfidence                  int64  `json:"twapConfidence"`
	HasSufficientNumberOfDataPoints bool   `json:"hasSufficientNumberOfDataPoints"`
	MaxPrice                        int64  `json:"maxPrice,omitempty"`
}
