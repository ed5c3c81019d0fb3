package session

import (
	"context"
	"errors"

	"dlobflow/dlob"
	"dlobflow/fetcher"
	"dlobflow/health"
	"dlobflow/liquidity"
	"dlobflow/models"
	"dlobflow/protocol"
)

// chainFetcher serves the blockchain strategy: each "fetch" is a local
// merge of the liquidity adapters' snapshots, no network round trip.
type chainFetcher struct {
	sources []liquidity.Source
	oracles protocol.OraclePriceProvider
	slots   protocol.SlotProvider
}

func (f *chainFetcher) FetchL2(ctx context.Context, reqs []models.MarketRequest) ([]models.MarketL2, error) {
	results := make([]models.MarketL2, 0, len(reqs))
	for _, req := range reqs {
		snaps := make([]models.L2Snapshot, 0, len(f.sources))
		for _, src := range f.sources {
			snaps = append(snaps, liquidity.SnapshotFrom(src, req.Market, req.Depth))
		}
		merged := dlob.MergeL2(snaps)
		if merged.Slot == 0 && f.slots != nil {
			merged.Slot = f.slots.Slot()
		}
		if req.Depth > 0 {
			if len(merged.Bids) > req.Depth {
				merged.Bids = merged.Bids[:req.Depth]
			}
			if len(merged.Asks) > req.Depth {
				merged.Asks = merged.Asks[:req.Depth]
			}
		}
		result := models.MarketL2{Market: req.Market, Snapshot: merged}
		if f.oracles != nil {
			if oracle, ok := f.oracles.OraclePriceData(req.Market); ok {
				result.Oracle = &oracle
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// switchingFetcher routes each tick's batch to the transport the
// monitor currently prescribes.
type switchingFetcher struct {
	monitor *health.Monitor
	chain   *chainFetcher
	remote  *fetcher.L2Client
}

func (f *switchingFetcher) FetchL2(ctx context.Context, reqs []models.MarketRequest) ([]models.MarketL2, error) {
	if f.monitor.Active() == health.StrategyBlockchain {
		return f.chain.FetchL2(ctx, reqs)
	}
	return f.remote.FetchL2(ctx, reqs)
}

// recordingFetcher feeds every fetch outcome into the health window.
// Stale-response rejections are neither success nor failure.
type recordingFetcher struct {
	inner   scheduleFetcher
	monitor *health.Monitor
}

type scheduleFetcher interface {
	FetchL2(ctx context.Context, reqs []models.MarketRequest) ([]models.MarketL2, error)
}

func (f *recordingFetcher) FetchL2(ctx context.Context, reqs []models.MarketRequest) ([]models.MarketL2, error) {
	results, err := f.inner.FetchL2(ctx, reqs)
	if errors.Is(err, fetcher.ErrStaleResponse) {
		return results, err
	}
	f.monitor.RecordOutcome(err == nil)
	return results, err
}
