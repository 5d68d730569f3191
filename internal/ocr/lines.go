package ocr

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/zombor/plannel/internal/items"
	"github.com/zombor/plannel/internal/money"
	"github.com/zombor/plannel/internal/totals"
)

// totalHints mark lines that summarize the receipt rather than list a
// purchase.
var totalHints = []string{"total", "importe", "a pagar", "pagar", "subtotal", "sum", "amount"}

// skipHints mark lines that are neither items nor totals.
var skipHints = []string{
	"gastos de envio", "envio", "envíos", "entrega", "pedido",
	"articulo", "artículo", "uds", "unidad", "unidades",
	"iva", "impuesto", "descuento", "politica", "política",
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{2}[/\-]\d{2}[/\-]\d{2,4})`),
	regexp.MustCompile(`(\d{4}[/\-]\d{2}[/\-]\d{2})`),
}

var whitespace = regexp.MustCompile(`\s+`)

// CleanLines drops blank lines, strips currency symbols and collapses
// whitespace.
func CleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		line = strings.NewReplacer("€", "", "$", "").Replace(line)
		line = strings.TrimSpace(whitespace.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// FillFromLines completes a payload whose scanner only delivered raw text.
// Merchant, date and items are derived from RawText when absent; fields
// that are already set are left untouched. The total is not derived here:
// reconciliation owns that heuristic.
func FillFromLines(p Payload) Payload {
	lines := CleanLines(p.RawText)
	if len(lines) == 0 {
		return p
	}
	if p.Date == nil {
		if d, ok := findDate(lines); ok {
			p.Date = &d
		}
	}
	if p.Merchant == nil {
		if m, ok := findMerchant(lines); ok {
			p.Merchant = &m
		}
	}
	if len(p.Items) == 0 {
		p.Items = findItems(lines)
	}
	return p
}

func findDate(lines []string) (string, bool) {
	for _, line := range lines {
		for _, pattern := range datePatterns {
			if m := pattern.FindStringSubmatch(line); m != nil {
				return m[1], true
			}
		}
	}
	return "", false
}

func findMerchant(lines []string) (string, bool) {
	limit := min(len(lines), 6)
	for _, line := range lines[:limit] {
		var b strings.Builder
		for _, r := range line {
			if unicode.IsLetter(r) || r == ' ' {
				b.WriteRune(r)
			}
		}
		name := strings.TrimSpace(b.String())
		if len([]rune(name)) >= 3 {
			return name, true
		}
	}
	return "", false
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func isDigits(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}

// findItems pairs names with prices. A line holding both a name and an
// amount is an item on its own; a name-only line followed by an
// amount-only line forms one item.
func findItems(lines []string) []items.Raw {
	var out []items.Raw
	pending := ""
	for _, line := range lines {
		lower := strings.ToLower(line)
		if containsAny(lower, totalHints) || containsAny(lower, skipHints) {
			pending = ""
			continue
		}

		amounts := totals.FindAmounts(line)
		var price float64
		hasPrice := false
		if len(amounts) > 0 {
			price, hasPrice = money.Parse(amounts[0])
		}

		if hasPrice {
			name := line
			for _, a := range amounts {
				name = strings.Replace(name, a, "", 1)
			}
			name = strings.Trim(strings.TrimSpace(name), " -:")
			if name != "" && !isDigits(name) {
				out = append(out, Item(name, money.Round(price)))
				pending = ""
				continue
			}
			if pending != "" {
				out = append(out, Item(pending, money.Round(price)))
				pending = ""
				continue
			}
		}

		if hasLetter(line) {
			pending = line
		} else {
			pending = ""
		}
	}
	return out
}
