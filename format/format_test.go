package format

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPriceTrimsTrailingZeros(t *testing.T) {
	cases := []struct {
		raw  int64
		want string
	}{
		{63_500_000, "63.5"},
		{100_000_000, "100"},
		{1, "0.000001"},
		{0, "0"},
		{-2_500_000, "-2.5"},
	}
	for _, tc := range cases {
		if got := Price(tc.raw); got != tc.want {
			t.Errorf("Price(%d) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestBaseSize(t *testing.T) {
	if got := BaseSize(5_050_505_050); got != "5.05050505" {
		t.Errorf("BaseSize = %q", got)
	}
	if got := BaseSize(1_000_000_000); got != "1" {
		t.Errorf("BaseSize = %q", got)
	}
}

func TestQuoteSize(t *testing.T) {
	if got := QuoteSize(12_340_000); got != "12.34" {
		t.Errorf("QuoteSize = %q", got)
	}
}

func TestNotional(t *testing.T) {
	// 63.5 price x 2 base
	if got := Notional(63_500_000, 2_000_000_000); got != "127" {
		t.Errorf("Notional = %q", got)
	}
	if got := Notional(100_000_000, 500_000_000); got != "50" {
		t.Errorf("Notional = %q", got)
	}
}

func TestSigFigs(t *testing.T) {
	cases := []struct {
		in   string
		figs int
		want string
	}{
		{"123.456", 4, "123.4"},
		{"123.456", 6, "123.456"},
		{"123456", 3, "123000"},
		{"0.00123456", 3, "0.00123"},
		{"-987.654", 2, "-980"},
		{"0", 3, "0"},
	}
	for _, tc := range cases {
		d, err := decimal.NewFromString(tc.in)
		if err != nil {
			t.Fatalf("bad input %q: %v", tc.in, err)
		}
		got := SigFigs(d, tc.figs)
		want, _ := decimal.NewFromString(tc.want)
		if !got.Equal(want) {
			t.Errorf("SigFigs(%s, %d) = %s, want %s", tc.in, tc.figs, got, tc.want)
		}
	}
}

func TestSigFigsNonPositiveFigs(t *testing.T) {
	d := decimal.NewFromInt(12345)
	if got := SigFigs(d, 0); !got.Equal(d) {
		t.Errorf("SigFigs(d, 0) = %s, want unchanged", got)
	}
}

func TestGrouped(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1234567.89", "1,234,567.89"},
		{"1000", "1,000"},
		{"999", "999"},
		{"-12345.5", "-12,345.5"},
		{"0.25", "0.25"},
	}
	for _, tc := range cases {
		d, err := decimal.NewFromString(tc.in)
		if err != nil {
			t.Fatalf("bad input %q: %v", tc.in, err)
		}
		if got := Grouped(d); got != tc.want {
			t.Errorf("Grouped(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
