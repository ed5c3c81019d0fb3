package models

import (
	"fmt"
	"strconv"
)

/////////////////////////////////////////////////////////////////////////////
//////////////////////////// DLOB SERVER (HTTP) /////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// WireL2Level is one price level as transmitted by the dlob server. All
// numeric fields are decimal strings to preserve precision.
type WireL2Level struct {
	Price   string            `json:"price"`
	Size    string            `json:"size"`
	Sources map[string]string `json:"sources"`
}

// WireOracleData mirrors the server's oracleData object.
type WireOracleData struct {
	Price                           string `json:"price"`
	Slot                            string `json:"slot"`
	Confidence                      string `json:"confidence"`
	HasSufficientNumberOfDataPoints bool   `json:"hasSufficientNumberOfDataPoints"`
	Twap                            string `json:"twap,omitempty"`
	TwapConfidence                  string `json:"twapConfidence,omitempty"`
	MaxPrice                        string `json:"maxPrice,omitempty"`
}

// WireL2Payload is one market's entry in a batched L2 response. The
// marketIndex/marketType echo fields are optional; when present they
// are checked against the request instead of trusting array position.
type WireL2Payload struct {
	MarketIndex *uint16         `json:"marketIndex,omitempty"`
	MarketType  string          `json:"marketType,omitempty"`
	MarketName  string          `json:"marketName,omitempty"`
	Bids        []WireL2Level   `json:"bids"`
	Asks        []WireL2Level   `json:"asks"`
	Slot        uint64          `json:"slot,omitempty"`
	OracleData  *WireOracleData `json:"oracleData,omitempty"`
}

// BatchedL2Response wraps the array of per-market payloads, ordered to
// mirror the request.
type BatchedL2Response struct {
	L2s []WireL2Payload `json:"l2s"`
}

// ParseFixed parses a decimal-string fixed-point integer off the wire.
func ParseFixed(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad fixed-point value %q: %w", s, err)
	}
	return v, nil
}

// ParseSlot parses a slot transmitted as a decimal string.
func ParseSlot(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad slot value %q: %w", s, err)
	}
	return v, nil
}

// ToLevel converts a wire level, recomputing size from the source map
// when one is present so the size/sources invariant holds from the
// moment of deserialization.
func (w WireL2Level) ToLevel() (L2Level, error) {
	price, err := ParseFixed(w.Price)
	if err != nil {
		return L2Level{}, err
	}
	lvl := L2Level{Price: price}
	if len(w.Sources) > 0 {
		lvl.Sources = make(map[string]int64, len(w.Sources))
		for name, raw := range w.Sources {
			size, err := ParseFixed(raw)
			if err != nil {
				return L2Level{}, err
			}
			lvl.Sources[name] = size
			lvl.Size += size
		}
		return lvl, nil
	}
	size, err := ParseFixed(w.Size)
	if err != nil {
		return L2Level{}, err
	}
	lvl.Size = size
	return lvl, nil
}

// ToOracleData converts the wire oracle object.
func (w WireOracleData) ToOracleData() (OraclePriceData, error) {
	var (
		out OraclePriceData
		err error
	)
	if out.Price, err = ParseFixed(w.Price); err != nil {
		return OraclePriceData{}, err
	}
	if out.Slot, err = ParseSlot(w.Slot); err != nil {
		return OraclePriceData{}, err
	}
	if out.Confidence, err = ParseFixed(w.Confidence); err != nil {
		return OraclePriceData{}, err
	}
	if out.Twap, err = ParseFixed(w.Twap); err != nil {
		return OraclePriceData{}, err
	}
	if out.TwapConfidence, err = ParseFixed(w.TwapConfidence); err != nil {
		return OraclePriceData{}, err
	}
	if out.MaxPrice, err = ParseFixed(w.MaxPrice); err != nil {
		return OraclePriceData{}, err
	}
	out.HasSufficientNumberOfDataPoints = w.HasSufficientNumberOfDataPoints
	return out, nil
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////// DLOB SERVER (WEBSOCKET) //////////////////////////
/////////////////////////////////////////////////////////////////////////////

// SubscribeMessage is the outbound subscribe/unsubscribe frame.
type SubscribeMessage struct {
	Type       string `json:"type"`
	Channel    string `json:"channel"`
	Market     string `json:"market"`
	MarketType string `json:"marketType"`
	Grouping   int    `json:"grouping,omitempty"`
}

// StreamEnvelope wraps every inbound websocket frame. Data is a
// JSON-encoded payload string; listeners filter on Channel.
type StreamEnvelope struct {
	Channel string      `json:"channel"`
	Data    string      `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// OrderbookChannel derives the multiplexed channel key for a market's
// book updates, e.g. "orderbook_perp_0".
func OrderbookChannel(id MarketId) string {
	return fmt.Sprintf("orderbook_%s_%d", id.MarketType, id.MarketIndex)
}

// LastUpdateChannel is the one-shot channel carrying the initial book
// state right after subscribing.
func LastUpdateChannel(id MarketId) string {
	return fmt.Sprintf("last_update_orderbook_%s_%d", id.MarketType, id.MarketIndex)
}
