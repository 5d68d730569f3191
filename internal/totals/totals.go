// Package totals infers the declared total of a receipt from its raw text
// lines when the OCR collaborator does not supply one.
//
// The result is a heuristic, not a parse of the receipt layout: a human
// confirms or overrides it during reconciliation.
package totals

import (
	"regexp"
	"strings"

	"github.com/zombor/plannel/internal/money"
)

// DefaultKeywords mark lines likely to carry a total.
var DefaultKeywords = []string{"total", "importe", "a pagar", "total a pagar", "suma", "subtotal"}

// amountPattern matches money-looking substrings: optional sign, either
// 1-3 digits with thousands groups or a plain digit run, then a two-digit
// decimal group that is not followed by another digit.
var amountPattern = regexp.MustCompile(`(-?(?:\d{1,3}(?:[.,]\d{3})+|\d+)[.,]\d{2})(?:\D|$)`)

// Picker chooses the total among candidates given in document order.
// candidates is never empty.
type Picker func(candidates []float64) float64

// PickMax picks the largest candidate. Receipts often print a subtotal above
// the grand total, and the larger value is usually the grand total.
func PickMax(candidates []float64) float64 {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c > best {
			best = c
		}
	}
	return best
}

// PickLast picks the last candidate in document order.
func PickLast(candidates []float64) float64 {
	return candidates[len(candidates)-1]
}

// Pickers maps configuration names to pickers.
var Pickers = map[string]Picker{
	"max":  PickMax,
	"last": PickLast,
}

// Extractor runs the two-pass total heuristic.
type Extractor struct {
	Keywords []string
	Pick     Picker
}

// New returns an Extractor with the default keywords and the given picker.
// A nil picker means PickMax.
func New(pick Picker) *Extractor {
	if pick == nil {
		pick = PickMax
	}
	return &Extractor{Keywords: DefaultKeywords, Pick: pick}
}

var defaultExtractor = New(PickMax)

// Extract runs the default extractor.
func Extract(lines []string) (float64, bool) {
	return defaultExtractor.Extract(lines)
}

// Extract returns the declared total found in lines. Keyword lines are
// scanned first; only when none of them yields a positive amount is every
// line scanned. It reports false when no candidate survives either pass.
func (e *Extractor) Extract(lines []string) (float64, bool) {
	lowered := make([]string, len(lines))
	for i, line := range lines {
		lowered[i] = strings.ToLower(line)
	}

	pick := e.Pick
	if pick == nil {
		pick = PickMax
	}

	if found := Candidates(lowered, e.hasKeyword); len(found) > 0 {
		return pick(found), true
	}
	if found := Candidates(lowered, nil); len(found) > 0 {
		return pick(found), true
	}
	return 0, false
}

func (e *Extractor) hasKeyword(line string) bool {
	keywords := e.Keywords
	if keywords == nil {
		keywords = DefaultKeywords
	}
	for _, k := range keywords {
		if k != "" && strings.Contains(line, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// Candidates extracts every strictly positive amount from the lines that
// pass keep, in document order. A nil keep accepts every line.
func Candidates(lines []string, keep func(string) bool) []float64 {
	var out []float64
	for _, line := range lines {
		if keep != nil && !keep(line) {
			continue
		}
		for _, match := range FindAmounts(line) {
			if v, ok := money.Parse(match); ok && v > 0 {
				out = append(out, money.Round(v))
			}
		}
	}
	return out
}

// FindAmounts returns the money-looking substrings of line in order.
func FindAmounts(line string) []string {
	matches := amountPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m[1]
	}
	return out
}
