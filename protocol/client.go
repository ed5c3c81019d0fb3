// Package protocol is the boundary to the on-chain protocol SDK. The
// SDK's account decoding and transaction building are treated as a
// solved black box; this package only defines the value types and
// interfaces the synchronization core consumes.
package protocol

import (
	"context"

	"dlobflow/models"
)

// OrderTriggerCondition mirrors the on-chain trigger condition enum.
type OrderTriggerCondition uint8

const (
	TriggerAbove OrderTriggerCondition = iota
	TriggerBelow
	TriggeredAbove
	TriggeredBelow
)

// Order is a decoded resting order. Prices carry PricePrecision, base
// amounts BasePrecision. OraclePriceOffset is applied to the current
// oracle price when Price is zero.
type Order struct {
	OrderId               uint32
	MarketIndex           uint16
	MarketType            models.MarketType
	Direction             OrderDirection
	Price                 int64
	OraclePriceOffset     int64
	BaseAssetAmount       int64
	BaseAssetAmountFilled int64
	Slot                  uint64
	TriggerCondition      OrderTriggerCondition
	PostOnly              bool
	AuctionDuration       uint8
}

// OrderDirection is the side of a resting order.
type OrderDirection uint8

const (
	DirectionLong OrderDirection = iota
	DirectionShort
)

// BaseRemaining is the unfilled base amount of the order.
func (o Order) BaseRemaining() int64 {
	return o.BaseAssetAmount - o.BaseAssetAmountFilled
}

// LimitPrice resolves the order's effective limit price at the given
// oracle price. Oracle-offset orders float with the oracle.
func (o Order) LimitPrice(oraclePrice int64) int64 {
	if o.Price != 0 {
		return o.Price
	}
	return oraclePrice + o.OraclePriceOffset
}

// AmmState is the subset of a perp market's AMM parameters the vAMM
// liquidity adapter needs. All reserve amounts carry BasePrecision,
// prices PricePrecision, spreads are in 1e6 fractions of the price.
type AmmState struct {
	BaseAssetReserve    int64
	MinBaseAssetReserve int64
	MaxBaseAssetReserve int64
	LongSpread          int64
	ShortSpread         int64
	MaxSpread           int64
	OrderTickSize       int64
}

// PerpMarketAccount is a decoded perp market account.
type PerpMarketAccount struct {
	MarketIndex uint16
	Status      uint8
	Amm         AmmState
}

// MarketAccountProvider exposes decoded, continuously-subscribed
// market accounts. A nil return means the account is not (yet)
// subscribed; adapters must degrade to an empty snapshot.
type MarketAccountProvider interface {
	PerpMarketAccount(marketIndex uint16) *PerpMarketAccount
}

// OraclePriceProvider exposes decoded oracle data for a market.
type OraclePriceProvider interface {
	OraclePriceData(id models.MarketId) (models.OraclePriceData, bool)
}

// SlotProvider reports the most recently observed blockchain slot.
type SlotProvider interface {
	Slot() uint64
}

// RestingLimitFn decides whether an order contributes live liquidity
// at the given slot and oracle price. Order-matching rules live in the
// SDK; the order source treats this as an external collaborator.
type RestingLimitFn func(order Order, slot uint64, oracle models.OraclePriceData) bool

// InstructionBuilder builds protocol instructions (deposits,
// withdrawals, settlements, order placement). The orderbook core never
// calls it; it is part of the SDK surface higher layers consume.
type InstructionBuilder interface {
	BuildInstruction(ctx context.Context, name string, args map[string]interface{}) ([]byte, error)
}
