// Package liquidity contains the per-venue level-2 producers: the
// virtual AMM curve, the on-chain resting order book and the two
// external matching venues. Every adapter returns materialized,
// point-in-time level slices; an adapter that is not subscribed for a
// market returns empty slices rather than failing the merge.
package liquidity

import "dlobflow/models"

// Source produces one venue's contribution to a market's book.
type Source interface {
	Name() string
	Bids(id models.MarketId) []models.L2Level
	Asks(id models.MarketId) []models.L2Level
}

// SnapshotFrom materializes a source's view of one market, truncated
// to depth levels per side. depth <= 0 means no truncation.
func SnapshotFrom(src Source, id models.MarketId, depth int) models.L2Snapshot {
	bids := src.Bids(id)
	asks := src.Asks(id)
	if depth > 0 {
		if len(bids) > depth {
			bids = bids[:depth]
		}
		if len(asks) > depth {
			asks = asks[:depth]
		}
	}
	return models.L2Snapshot{Bids: bids, Asks: asks}
}
