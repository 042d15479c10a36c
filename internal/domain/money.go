package domain

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// DefaultContractMultiplier is the option-contract notional scaling.
const DefaultContractMultiplier = 100

// Notional returns price × qty × multiplier rounded to cents. The product is
// computed in decimal so repeated debits and credits do not drift.
func Notional(price float64, qty int64, multiplier float64) float64 {
	v := decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(qty)).
		Mul(decimal.NewFromFloat(multiplier))
	return v.Round(2).InexactFloat64()
}

// RoundCents rounds v to two decimal places.
func RoundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// AddMoney returns a + b rounded to cents.
func AddMoney(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

// WeightedAverage returns the quantity-weighted mean of two lots.
func WeightedAverage(qtyA int64, priceA float64, qtyB int64, priceB float64) float64 {
	total := qtyA + qtyB
	if total == 0 {
		return 0
	}
	sum := decimal.NewFromFloat(priceA).Mul(decimal.NewFromInt(qtyA)).
		Add(decimal.NewFromFloat(priceB).Mul(decimal.NewFromInt(qtyB)))
	return sum.Div(decimal.NewFromInt(total)).Round(6).InexactFloat64()
}

// UnderlyingOf returns the underlying root of an OCC option symbol
// (e.g. "AAPL240119C00190000" -> "AAPL"). Plain equity symbols are returned
// unchanged.
func UnderlyingOf(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	// OCC: root (1-6 chars) + YYMMDD + C|P + 8-digit strike.
	if len(s) < 16 {
		return s
	}
	tail := s[len(s)-15:]
	for i, r := range tail {
		switch {
		case i < 6 || i > 6:
			if !unicode.IsDigit(r) {
				return s
			}
		case i == 6:
			if r != 'C' && r != 'P' {
				return s
			}
		}
	}
	return strings.TrimSpace(s[:len(s)-15])
}
