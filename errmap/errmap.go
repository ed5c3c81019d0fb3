// Package errmap translates numeric protocol error codes into
// user-facing messages.
package errmap

import (
	"fmt"
	"regexp"
	"strconv"
)

// Anchor program errors start at 6000; codes below that belong to the
// runtime and are not ours to translate.
const customErrorBase = 6000

var messages = map[int]string{
	6000: "invalid spot market authority",
	6001: "invalid insurance fund authority",
	6002: "insufficient deposit",
	6003: "insufficient collateral",
	6004: "sufficient collateral",
	6005: "max number of positions taken",
	6006: "admin controls prices disabled",
	6007: "market delisted",
	6008: "market index already initialized",
	6009: "user account and user positions account mismatch",
	6010: "user has no position in market",
	6011: "invalid initial peg",
	6012: "amm repeg already configured with amt given",
	6013: "amm repeg incorrect repeg direction",
	6014: "amm repeg out of bounds pnl",
	6015: "slippage outside limit price",
	6016: "order size too small",
	6017: "price bands breached",
	6018: "exchange is paused",
	6019: "invalid whitelist token",
	6020: "whitelist token not found",
	6021: "invalid discount token",
	6022: "discount token not found",
	6023: "referrer not found",
	6024: "referrer stats not found",
	6025: "referrer must be writable",
	6026: "referrer stats must be writable",
	6027: "referrer and referrer stats authority unequal",
	6028: "invalid referrer",
	6029: "invalid oracle",
	6030: "oracle not found",
	6031: "liquidations blocked by oracle",
	6036: "max deposit exceeded",
	6037: "cant delete user with collateral",
	6040: "order does not exist",
	6041: "order not open",
	6042: "fill order did not update position",
	6059: "user order id already in use",
	6078: "could not load market data",
	6087: "market wrong mutability",
	6111: "user cant be deleted",
	6113: "insufficient lp tokens",
	6117: "oracle invalid",
	6118: "oracle too volatile",
	6119: "oracle too uncertain",
	6120: "oracle stale for margin",
	6121: "oracle insufficient data points",
	6122: "oracle stale for amm",
}

// Message returns the user-facing message for a protocol error code, or
// a generic fallback naming the code when no translation exists.
func Message(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return fmt.Sprintf("protocol error %d", code)
}

// Known reports whether a translation exists for the code.
func Known(code int) bool {
	_, ok := messages[code]
	return ok
}

var (
	hexCodeRe     = regexp.MustCompile(`custom program error: (0x[0-9a-fA-F]+)`)
	decimalCodeRe = regexp.MustCompile(`"Custom":\s*(\d+)`)
)

// ExtractCode pulls a protocol error code out of raw RPC error text.
// Both the hex "custom program error: 0x1773" form and the JSON
// {"Custom": 6003} form are recognized. The second return is false
// when no code is present.
func ExtractCode(errText string) (int, bool) {
	if m := hexCodeRe.FindStringSubmatch(errText); m != nil {
		code, err := strconv.ParseInt(m[1][2:], 16, 32)
		if err == nil && code >= customErrorBase {
			return int(code), true
		}
	}
	if m := decimalCodeRe.FindStringSubmatch(errText); m != nil {
		code, err := strconv.Atoi(m[1])
		if err == nil && code >= customErrorBase {
			return code, true
		}
	}
	return 0, false
}

// Translate maps raw RPC error text straight to a user-facing message.
// Text without a recognizable code is returned unchanged.
func Translate(errText string) string {
	if code, ok := ExtractCode(errText); ok {
		return Message(code)
	}
	return errText
}
