// Package types provides common type aliases and utilities.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// Kg is a material quantity in kilograms.
type Kg = decimal.Decimal

// Rounding scales for stored values.
const (
	MoneyScale    int32 = 2
	UnitCostScale int32 = 4
	KgScale       int32 = 3
)

// QuantityEpsilon is the tolerance for kilogram comparisons.
// Layers holding less than this are treated as exhausted.
var QuantityEpsilon = decimal.New(1, -KgScale)

// RoundMoney rounds a currency amount to cents.
func RoundMoney(d Money) Money { return d.Round(MoneyScale) }

// RoundUnitCost rounds a per-kg cost.
func RoundUnitCost(d Money) Money { return d.Round(UnitCostScale) }

// RoundKg rounds a quantity to grams.
func RoundKg(d Kg) Kg { return d.Round(KgScale) }

// NearlyZero reports whether |d| is within QuantityEpsilon.
func NearlyZero(d Kg) bool {
	return d.Abs().LessThan(QuantityEpsilon)
}

// ExceedsEpsilon reports whether d is strictly greater than QuantityEpsilon.
func ExceedsEpsilon(d Kg) bool {
	return d.GreaterThan(QuantityEpsilon)
}

// MustDecimal parses a decimal literal, panics on error.
// Use only for constants and tests.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// SumDecimals adds all values.
func SumDecimals(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// DateLayout is the ISO calendar-date layout used for production and entry dates.
const DateLayout = "2006-01-02"

// TimeLayout is the wall-clock layout used for load and delivery times.
const TimeLayout = "15:04:05"

// ParseDate parses an ISO date (a longer timestamp is truncated to its date part).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// DateOnly strips the clock part, keeping the calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders t as an ISO date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
