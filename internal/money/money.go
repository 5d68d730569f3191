// Package money parses the monetary notations found on receipts.
//
// Receipts mix conventions freely: "12,50", "1.234,56" and "1,234.56" can
// all show up on the same document. Parse decides which separator is the
// decimal point from the text alone, and ParseAmount is the "never fail"
// entry point that always yields a finite value rounded to cents.
package money

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse extracts a number from free-form text.
// The second return value is false when the text holds no usable number;
// that is the normal outcome for most receipt lines, not an error.
func Parse(text string) (float64, bool) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The separator that occurs last is the decimal point.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseAmount resolves a price to a finite amount rounded to cents.
// Missing prices, unparseable text and non-finite numbers all become 0.
func ParseAmount(p Price) float64 {
	switch p.kind {
	case Numeric:
		return Round(p.num)
	case Text:
		v, ok := Parse(p.text)
		if !ok {
			return 0
		}
		return Round(v)
	default:
		return 0
	}
}

// Round rounds v to 2 decimal places, half away from zero.
// Non-finite input rounds to 0.
func Round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Sum adds amounts in decimal arithmetic so that 0.1+0.2 is 0.3.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}

// Diff returns |a-b| rounded to cents.
func Diff(a, b float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
		return 0
	}
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs().Round(2).InexactFloat64()
}

// Format renders an amount with two decimals and a dot separator.
func Format(v float64) string {
	return decimal.NewFromFloat(Round(v)).StringFixed(2)
}
