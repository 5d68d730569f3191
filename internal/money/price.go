package money

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Kind tells which variant a Price holds.
type Kind int

const (
	// Missing means the OCR collaborator did not supply a price.
	Missing Kind = iota
	// Numeric is a price delivered as a JSON number.
	Numeric
	// Text is a price delivered as a string, e.g. "1,20 €".
	Text
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Text:
		return "text"
	default:
		return "missing"
	}
}

// Price is a possibly absent, possibly stringly-typed price as received
// from OCR. The zero value is a Missing price.
type Price struct {
	kind Kind
	num  float64
	text string
}

// NoPrice returns a Missing price.
func NoPrice() Price { return Price{} }

// NumericPrice wraps a number.
func NumericPrice(v float64) Price { return Price{kind: Numeric, num: v} }

// TextPrice wraps an unparsed price string.
func TextPrice(s string) Price { return Price{kind: Text, text: s} }

// Kind reports which variant p holds.
func (p Price) Kind() Kind { return p.kind }

// IsMissing reports whether no price was supplied.
func (p Price) IsMissing() bool { return p.kind == Missing }

// Number returns the numeric value and whether p is Numeric.
func (p Price) Number() (float64, bool) { return p.num, p.kind == Numeric }

// Raw returns the original text and whether p is Text.
func (p Price) Raw() (string, bool) { return p.text, p.kind == Text }

// Amount is shorthand for ParseAmount(p).
func (p Price) Amount() float64 { return ParseAmount(p) }

// UnmarshalJSON accepts a number, a string or null. Any other JSON value
// decodes to a Missing price instead of failing the whole payload.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*p = Price{}
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*p = TextPrice(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		v, err := strconv.ParseFloat(string(data), 64)
		if err != nil || math.IsInf(v, 0) {
			return nil
		}
		*p = NumericPrice(v)
	}
	return nil
}

// MarshalJSON writes the price back in the shape it was received.
func (p Price) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case Numeric:
		if math.IsNaN(p.num) || math.IsInf(p.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(p.num)
	case Text:
		return json.Marshal(p.text)
	default:
		return []byte("null"), nil
	}
}
