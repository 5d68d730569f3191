// Package items cleans and deduplicates line-item candidates recognized on
// a receipt.
package items

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/zombor/plannel/internal/money"
)

// Raw is a line-item candidate as delivered by OCR.
type Raw struct {
	Name  string      `json:"name"`
	Price money.Price `json:"price"`
}

// Item is a cleaned line item.
type Item struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"` // Always >= 0, rounded to cents
}

// NormalizeName trims the name and collapses inner whitespace runs.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NormalizePrice resolves a raw price to a non-negative amount in cents.
func NormalizePrice(p money.Price) float64 {
	v := money.ParseAmount(p)
	if v < 0 {
		return 0
	}
	return v
}

// NormalizeOne cleans a single candidate. It reports false when the name is
// empty after cleaning.
func NormalizeOne(name string, price money.Price) (Item, bool) {
	n := NormalizeName(name)
	if n == "" {
		return Item{}, false
	}
	return Item{Name: n, Price: NormalizePrice(price)}, true
}

// Normalize cleans every candidate and drops those without a legible name.
func Normalize(raw []Raw) []Item {
	out := make([]Item, 0, len(raw))
	for _, r := range raw {
		if item, ok := NormalizeOne(r.Name, r.Price); ok {
			out = append(out, item)
		}
	}
	return out
}

// foldName strips diacritics, lowercases and keeps only letters and digits,
// so "Pan." and " PAN" fold to the same key.
func foldName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	stripped = cases.Lower(language.Und).String(stripped)

	var b strings.Builder
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Key builds the transient dedupe key of a candidate. It is empty when the
// candidate has neither a foldable name nor a price.
func Key(r Raw) string {
	name := foldName(r.Name)
	price := ""
	if !r.Price.IsMissing() {
		price = strconv.FormatFloat(NormalizePrice(r.Price), 'f', -1, 64)
	}
	if name == "" && price == "" {
		return ""
	}
	return name + "|" + price
}

// Dedupe drops candidates whose key was already seen, keeping the first
// occurrence and the original order. Candidates with an empty key are
// dropped as well.
func Dedupe(raw []Raw) []Raw {
	seen := make(map[string]struct{}, len(raw))
	out := make([]Raw, 0, len(raw))
	for _, r := range raw {
		key := Key(r)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Clean is Dedupe followed by Normalize.
func Clean(raw []Raw) []Item {
	return Normalize(Dedupe(raw))
}

// SumPrices adds the prices of cleaned items.
func SumPrices(items []Item) float64 {
	values := make([]float64, len(items))
	for i, item := range items {
		values[i] = item.Price
	}
	return money.Sum(values...)
}

// SumRaw adds the prices of raw candidates, counting absent prices as 0.
func SumRaw(raw []Raw) float64 {
	values := make([]float64, len(raw))
	for i, r := range raw {
		values[i] = money.ParseAmount(r.Price)
	}
	return money.Sum(values...)
}
