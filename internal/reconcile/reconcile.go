// Package reconcile merges the line items and the declared total of a
// receipt into one view, exposes the discrepancy between them and tracks
// which amount the user chose for the transaction.
//
// Results are values: every operation returns a new Result and never
// modifies its receiver, so callers can recompute on every edit.
package reconcile

import (
	"math"
	"slices"

	"github.com/zombor/plannel/internal/items"
	"github.com/zombor/plannel/internal/money"
	"github.com/zombor/plannel/internal/ocr"
	"github.com/zombor/plannel/internal/totals"
)

// Source names the basis of the chosen amount.
type Source string

const (
	SourceTotal  Source = "total"
	SourceSum    Source = "sum"
	SourceManual Source = "manual"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceTotal || s == SourceSum || s == SourceManual
}

// Tolerance is the largest discrepancy still considered agreement.
const Tolerance = 0.005

// Result is the reconciled view of one receipt.
type Result struct {
	Items         []items.Item `json:"items"`
	ItemsSum      float64      `json:"items_sum"`
	DeclaredTotal *float64     `json:"declared_total"`
	Discrepancy   *float64     `json:"discrepancy"`
	ChosenAmount  *float64     `json:"chosen_amount"` // nil while a manual amount is pending
	ChosenSource  Source       `json:"chosen_source"`
}

// Engine reconciles payloads with a configured total extractor.
type Engine struct {
	extractor *totals.Extractor
}

// NewEngine creates an Engine. A nil extractor uses the default heuristic.
func NewEngine(extractor *totals.Extractor) *Engine {
	if extractor == nil {
		extractor = totals.New(totals.PickMax)
	}
	return &Engine{extractor: extractor}
}

var defaultEngine = NewEngine(nil)

// Reconcile runs the default engine.
func Reconcile(p ocr.Payload) Result {
	return defaultEngine.Reconcile(p)
}

// Reconcile builds a fresh Result from an OCR payload. Items are
// deduplicated then normalized; the declared total is the payload total when
// present, otherwise whatever the extractor finds in the raw text.
func (e *Engine) Reconcile(p ocr.Payload) Result {
	var declared *float64
	if p.Total != nil && !math.IsNaN(*p.Total) && !math.IsInf(*p.Total, 0) {
		declared = ptr(money.Round(*p.Total))
	} else if v, ok := e.extractor.Extract(p.RawText); ok {
		declared = ptr(v)
	}
	return build(items.Clean(p.Items), declared)
}

// New builds a Result from already known items and an optional declared
// total, applying the initial selection policy. Items are normalized again
// so that prices and names always hold the item invariants.
func New(list []items.Item, declared *float64) Result {
	if declared != nil {
		if math.IsNaN(*declared) || math.IsInf(*declared, 0) {
			declared = nil
		} else {
			declared = ptr(money.Round(*declared))
		}
	}
	return build(sanitize(list), declared)
}

func build(list []items.Item, declared *float64) Result {
	r := Result{Items: list, DeclaredTotal: declared}
	return r.recompute().Reselect()
}

func sanitize(list []items.Item) []items.Item {
	out := make([]items.Item, 0, len(list))
	for _, it := range list {
		if clean, ok := items.NormalizeOne(it.Name, money.NumericPrice(it.Price)); ok {
			out = append(out, clean)
		}
	}
	return out
}

// recompute refreshes the sum and discrepancy from the current items and,
// when the amount follows the sum, the chosen amount as well.
func (r Result) recompute() Result {
	r.ItemsSum = items.SumPrices(r.Items)
	r.Discrepancy = nil
	if r.DeclaredTotal != nil {
		r.Discrepancy = ptr(money.Diff(r.ItemsSum, *r.DeclaredTotal))
	}
	if r.ChosenSource == SourceSum {
		r.ChosenAmount = r.sumAmount()
	}
	return r
}

func (r Result) sumAmount() *float64 {
	if r.ItemsSum > 0 {
		return ptr(r.ItemsSum)
	}
	return nil
}

// Reselect applies the initial selection policy: the declared total when
// there is one, else the items sum when positive, else a pending manual
// amount.
func (r Result) Reselect() Result {
	switch {
	case r.DeclaredTotal != nil:
		return r.UseTotal()
	case r.ItemsSum > 0:
		return r.UseSum()
	default:
		r.ChosenSource = SourceManual
		r.ChosenAmount = nil
		return r
	}
}

// UseTotal chooses the declared total. Without a declared total the result
// is returned unchanged.
func (r Result) UseTotal() Result {
	if r.DeclaredTotal == nil {
		return r
	}
	r.ChosenSource = SourceTotal
	r.ChosenAmount = ptr(*r.DeclaredTotal)
	return r
}

// UseSum chooses the items sum. A zero sum leaves the amount unset.
func (r Result) UseSum() Result {
	r.ChosenSource = SourceSum
	r.ChosenAmount = r.sumAmount()
	return r
}

// UseManual records an amount typed by the user. Non-finite values are
// ignored.
func (r Result) UseManual(amount float64) Result {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return r
	}
	r.ChosenSource = SourceManual
	r.ChosenAmount = ptr(money.Round(amount))
	return r
}

// Use switches to the given source. SourceManual keeps the current amount
// and only changes the label; use UseManual to supply a value.
func (r Result) Use(s Source) Result {
	switch s {
	case SourceTotal:
		return r.UseTotal()
	case SourceSum:
		return r.UseSum()
	case SourceManual:
		r.ChosenSource = SourceManual
		return r
	default:
		return r
	}
}

// WithItems replaces every item.
func (r Result) WithItems(list []items.Item) Result {
	r.Items = sanitize(list)
	return r.recompute()
}

// AddItem appends an item. Items without a name are ignored.
func (r Result) AddItem(name string, price money.Price) Result {
	item, ok := items.NormalizeOne(name, price)
	if !ok {
		return r
	}
	r.Items = append(slices.Clone(r.Items), item)
	return r.recompute()
}

// UpdateItem replaces the item at index i. Out-of-range indices and empty
// names are ignored.
func (r Result) UpdateItem(i int, name string, price money.Price) Result {
	if i < 0 || i >= len(r.Items) {
		return r
	}
	item, ok := items.NormalizeOne(name, price)
	if !ok {
		return r
	}
	r.Items = slices.Clone(r.Items)
	r.Items[i] = item
	return r.recompute()
}

// RemoveItem deletes the item at index i. Out-of-range indices are ignored.
func (r Result) RemoveItem(i int) Result {
	if i < 0 || i >= len(r.Items) {
		return r
	}
	r.Items = slices.Delete(slices.Clone(r.Items), i, i+1)
	return r.recompute()
}

// WithDeclaredTotal overrides the declared total, e.g. after the user
// corrects a misread. Passing nil clears it. When the chosen amount followed
// the old total it follows the new one; if the total is cleared the initial
// policy is applied again.
func (r Result) WithDeclaredTotal(total *float64) Result {
	if total != nil && (math.IsNaN(*total) || math.IsInf(*total, 0)) {
		return r
	}
	if total != nil {
		total = ptr(money.Round(*total))
	}
	r.DeclaredTotal = total
	r = r.recompute()
	if r.ChosenSource == SourceTotal {
		if total == nil {
			return r.Reselect()
		}
		return r.UseTotal()
	}
	return r
}

// Balanced reports whether a declared total exists and agrees with the
// items sum within Tolerance.
func (r Result) Balanced() bool {
	return r.Discrepancy != nil && *r.Discrepancy < Tolerance
}

func ptr(v float64) *float64 {
	return &v
}
