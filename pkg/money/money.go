// Package money provides fixed-point monetary arithmetic in minor units.
// All billing math in faktur runs on int64 cents; floats only appear at the
// boundary (rates, quantities) and are rounded half-up into minor units at
// every step.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrInvalidCurrency = errors.New("invalid_currency")

// Round converts a raw float amount to minor units, rounding half-up.
func Round(raw float64) int64 {
	if raw >= 0 {
		return int64(math.Floor(raw + 0.5))
	}
	return -int64(math.Floor(-raw + 0.5))
}

// FromMajor converts a major-unit amount (e.g. 10.50) to minor units (1050).
func FromMajor(major float64) int64 {
	return Round(major * 100)
}

// Major converts minor units back to a major-unit float for display.
func Major(cents int64) float64 {
	return float64(cents) / 100
}

// Percent applies a percentage to a minor-unit amount and rounds.
func Percent(cents int64, pct float64) int64 {
	return Round(float64(cents) * pct / 100)
}

// NormalizeCurrency upper-cases and validates a 3-letter ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}

// Format renders minor units as a display amount, e.g. "USD 100.00".
func Format(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, cents/100, cents%100)
}
