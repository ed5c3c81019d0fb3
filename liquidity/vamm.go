package liquidity

import (
	"dlobflow/models"
	"dlobflow/protocol"
)

// VammConfig controls how finely the synthetic curve is discretized.
// TopOfBookQuoteAmounts sizes the first levels by quote notional; the
// remaining open liquidity is split evenly across the rest of
// NumOrders levels.
type VammConfig struct {
	NumOrders             int
	TopOfBookQuoteAmounts []int64
}

// DefaultVammConfig mirrors the protocol UI defaults: 100 levels with
// 500/1k/2k/5k quote-notional steps at the top of book.
func DefaultVammConfig() VammConfig {
	return VammConfig{
		NumOrders: 100,
		TopOfBookQuoteAmounts: []int64{
			500 * models.QuotePrecision,
			1_000 * models.QuotePrecision,
			2_000 * models.QuotePrecision,
			5_000 * models.QuotePrecision,
		},
	}
}

// VammSource derives synthetic liquidity from a perp market's AMM
// parameters and the latest oracle price. It is a pure function of
// already-subscribed in-memory state; no network I/O happens here.
type VammSource struct {
	markets protocol.MarketAccountProvider
	oracles protocol.OraclePriceProvider
	cfg     VammConfig
}

func NewVammSource(markets protocol.MarketAccountProvider, oracles protocol.OraclePriceProvider, cfg VammConfig) *VammSource {
	if cfg.NumOrders <= 0 {
		cfg.NumOrders = DefaultVammConfig().NumOrders
	}
	return &VammSource{markets: markets, oracles: oracles, cfg: cfg}
}

func (v *VammSource) Name() string { return models.SourceVamm }

func (v *VammSource) Bids(id models.MarketId) []models.L2Level {
	return v.levels(id, true)
}

func (v *VammSource) Asks(id models.MarketId) []models.L2Level {
	return v.levels(id, false)
}

func (v *VammSource) levels(id models.MarketId, bids bool) []models.L2Level {
	if id.MarketType != models.MarketTypePerp {
		return []models.L2Level{}
	}
	market := v.markets.PerpMarketAccount(id.MarketIndex)
	if market == nil {
		return []models.L2Level{}
	}
	oracle, ok := v.oracles.OraclePriceData(id)
	if !ok || oracle.Price == 0 {
		return []models.L2Level{}
	}

	amm := market.Amm
	var top, worst, open int64
	if bids {
		top = applySpread(oracle.Price, -amm.ShortSpread)
		worst = applySpread(oracle.Price, -amm.MaxSpread)
		open = amm.BaseAssetReserve - amm.MinBaseAssetReserve
	} else {
		top = applySpread(oracle.Price, amm.LongSpread)
		worst = applySpread(oracle.Price, amm.MaxSpread)
		open = amm.MaxBaseAssetReserve - amm.BaseAssetReserve
	}
	if open <= 0 || top <= 0 {
		return []models.L2Level{}
	}

	numOrders := v.cfg.NumOrders
	levels := make([]models.L2Level, 0, numOrders)
	remaining := open
	step := (worst - top) / int64(numOrders)

	for i := 0; i < numOrders && remaining > 0; i++ {
		price := roundToTick(top+step*int64(i), amm.OrderTickSize, bids)
		if price <= 0 {
			break
		}
		var size int64
		if i < len(v.cfg.TopOfBookQuoteAmounts) {
			// quote notional -> base size at this level's price
			size = quoteToBase(v.cfg.TopOfBookQuoteAmounts[i], price)
		} else {
			levelsLeft := int64(numOrders - i)
			size = remaining / levelsLeft
		}
		if size > remaining {
			size = remaining
		}
		if size <= 0 {
			continue
		}
		remaining -= size
		// tick rounding can land consecutive steps on the same price;
		// fold them so one snapshot never repeats a price level
		if n := len(levels); n > 0 && levels[n-1].Price == price {
			levels[n-1].Size += size
			levels[n-1].Sources[models.SourceVamm] += size
			continue
		}
		levels = append(levels, models.SingleSourceLevel(price, size, models.SourceVamm))
	}
	return levels
}

// applySpread moves a price by a 1e6-denominated spread fraction.
func applySpread(price, spread int64) int64 {
	return price + (price*spread)/models.PricePrecision
}

// quoteToBase converts quote notional at PricePrecision into base size
// at BasePrecision.
func quoteToBase(quote, price int64) int64 {
	if price == 0 {
		return 0
	}
	return (quote * models.BasePrecision) / price
}

// roundToTick rounds toward the book interior so synthetic levels
// never cross the configured tick grid.
func roundToTick(price, tick int64, bids bool) int64 {
	if tick <= 0 {
		return price
	}
	rounded := (price / tick) * tick
	if !bids && rounded < price {
		rounded += tick
	}
	return rounded
}
