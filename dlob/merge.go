// Package dlob holds the aggregated multi-source order book state: the
// level-2 merge engine, the slot-gated oracle price store and the
// externally observable orderbook store.
package dlob

import (
	"sort"

	"dlobflow/models"
)

// MergeL2 combines snapshots from any number of liquidity sources into
// one price-level-sorted view. Levels at exactly equal prices are
// folded together: sizes sum and per-source maps union. The reduction
// is order-independent, so merging [a,b,c] equals merging [c,b,a].
//
// Size is treated as derivable: when a level carries a source map the
// merged size is recomputed from it, never read off the input field.
func MergeL2(snapshots []models.L2Snapshot) models.L2Snapshot {
	var maxSlot uint64
	bidBuckets := make(map[int64]models.L2Level)
	askBuckets := make(map[int64]models.L2Level)
	for _, snap := range snapshots {
		for _, lvl := range snap.Bids {
			mergeInto(bidBuckets, lvl)
		}
		for _, lvl := range snap.Asks {
			mergeInto(askBuckets, lvl)
		}
		if snap.Slot > maxSlot {
			maxSlot = snap.Slot
		}
	}
	return models.L2Snapshot{
		Bids: sortedLevels(bidBuckets, true),
		Asks: sortedLevels(askBuckets, false),
		Slot: maxSlot,
	}
}

func mergeInto(buckets map[int64]models.L2Level, lvl models.L2Level) {
	bucket, ok := buckets[lvl.Price]
	if !ok {
		bucket = models.L2Level{Price: lvl.Price, Sources: make(map[string]int64)}
	}
	if len(lvl.Sources) > 0 {
		for name, size := range lvl.Sources {
			bucket.Sources[name] += size
			bucket.Size += size
		}
	} else {
		bucket.Size += lvl.Size
	}
	buckets[lvl.Price] = bucket
}

func sortedLevels(buckets map[int64]models.L2Level, descending bool) []models.L2Level {
	levels := make([]models.L2Level, 0, len(buckets))
	for _, lvl := range buckets {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}
