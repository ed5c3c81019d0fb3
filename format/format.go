// Package format renders fixed-point protocol integers as display
// strings. Prices and quote amounts carry 1e6 precision, base sizes
// 1e9 precision.
package format

import (
	"strings"

	"github.com/shopspring/decimal"

	"dlobflow/models"
)

var (
	priceDivisor = decimal.NewFromInt(models.PricePrecision)
	baseDivisor  = decimal.NewFromInt(models.BasePrecision)
	quoteDivisor = decimal.NewFromInt(models.QuotePrecision)
)

// PriceDecimal converts a 1e6 fixed-point price to a decimal value.
func PriceDecimal(raw int64) decimal.Decimal {
	return decimal.NewFromInt(raw).Div(priceDivisor)
}

// BaseDecimal converts a 1e9 fixed-point base size to a decimal value.
func BaseDecimal(raw int64) decimal.Decimal {
	return decimal.NewFromInt(raw).Div(baseDivisor)
}

// QuoteDecimal converts a 1e6 fixed-point quote amount to a decimal value.
func QuoteDecimal(raw int64) decimal.Decimal {
	return decimal.NewFromInt(raw).Div(quoteDivisor)
}

// Price renders a fixed-point price with trailing zeros trimmed.
func Price(raw int64) string {
	return trim(PriceDecimal(raw))
}

// BaseSize renders a fixed-point base size with trailing zeros trimmed.
func BaseSize(raw int64) string {
	return trim(BaseDecimal(raw))
}

// QuoteSize renders a fixed-point quote amount with trailing zeros trimmed.
func QuoteSize(raw int64) string {
	return trim(QuoteDecimal(raw))
}

// Notional renders price*size as a quote-precision amount.
func Notional(price, size int64) string {
	n := PriceDecimal(price).Mul(BaseDecimal(size))
	return trim(n)
}

// SigFigs truncates d to the given number of significant figures.
// Values with fewer figures are returned unchanged.
func SigFigs(d decimal.Decimal, figs int) decimal.Decimal {
	if figs <= 0 || d.IsZero() {
		return d
	}
	digits := len(d.Abs().Coefficient().String())
	if digits <= figs {
		return d
	}
	drop := int32(digits-figs) + d.Exponent()
	if drop <= 0 {
		return d.Truncate(-drop)
	}
	return d.Shift(-drop).Truncate(0).Shift(drop)
}

// Grouped renders d with thousands separators in the integer part.
func Grouped(d decimal.Decimal) string {
	s := trim(d)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	b.WriteString(fracPart)
	return b.String()
}

func trim(d decimal.Decimal) string {
	s := d.String()
	if strings.IndexByte(s, '.') < 0 {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
