// Package ocr defines the payload contract of the external receipt OCR
// collaborator and decodes it leniently.
//
// Every field is optional: the collaborator is best-effort, so a field that
// is missing, null or of the wrong type is treated as absent instead of
// failing the whole payload.
package ocr

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/zombor/plannel/internal/items"
	"github.com/zombor/plannel/internal/money"
)

// ErrNotJSON is returned by Decode when the document is not JSON at all.
var ErrNotJSON = errors.New("ocr payload is not valid JSON")

// Payload is the structured output of the OCR collaborator.
type Payload struct {
	Merchant   *string     `json:"merchant"`
	Date       *string     `json:"date"`
	Total      *float64    `json:"total"`
	Items      []items.Raw `json:"items"`
	RawText    []string    `json:"raw_text"`
	Confidence *float64    `json:"confidence"`
	Language   *string     `json:"language"`
}

// Decode parses a payload document. Only a document that is not JSON at all
// is an error; any other shape degrades to an empty or partial payload.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if !json.Valid(data) {
		return p, ErrNotJSON
	}
	_ = p.UnmarshalJSON(data)
	return p, nil
}

// UnmarshalJSON decodes the payload field by field, dropping values of the
// wrong type. It never fails for valid JSON.
func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = Payload{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		// Valid JSON that is not an object carries nothing usable.
		if json.Valid(data) {
			return nil
		}
		return err
	}

	p.Merchant = decodeString(fields["merchant"])
	p.Date = decodeString(fields["date"])
	p.Language = decodeString(fields["language"])
	p.Total = decodeNumber(fields["total"])
	p.Items = decodeItems(fields["items"])
	p.RawText = decodeLines(fields["raw_text"])

	if c := decodeNumber(fields["confidence"]); c != nil {
		v := math.Min(math.Max(*c, 0), 1)
		p.Confidence = &v
	}
	return nil
}

func decodeString(raw json.RawMessage) *string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func decodeNumber(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var v float64
	if json.Unmarshal(raw, &v) != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func decodeItems(raw json.RawMessage) []items.Raw {
	var list []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &list) != nil || len(list) == 0 {
		return nil
	}
	out := make([]items.Raw, 0, len(list))
	for _, entry := range list {
		var fields map[string]json.RawMessage
		if json.Unmarshal(entry, &fields) != nil || fields == nil {
			continue
		}
		var item items.Raw
		var name string
		if json.Unmarshal(fields["name"], &name) == nil {
			item.Name = name
		}
		if price, ok := fields["price"]; ok {
			_ = item.Price.UnmarshalJSON(price)
		}
		out = append(out, item)
	}
	return out
}

func decodeLines(raw json.RawMessage) []string {
	var list []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &list) != nil || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, entry := range list {
		var s string
		if bytes.Equal(bytes.TrimSpace(entry), []byte("null")) {
			continue
		}
		if json.Unmarshal(entry, &s) == nil {
			out = append(out, s)
		}
	}
	return out
}

// MerchantName returns the merchant or an empty string.
func (p Payload) MerchantName() string {
	if p.Merchant == nil {
		return ""
	}
	return *p.Merchant
}

// ConfidenceScore returns the confidence or 0 when absent.
func (p Payload) ConfidenceScore() float64 {
	if p.Confidence == nil {
		return 0
	}
	return *p.Confidence
}

// dateLayouts are tried in order; receipts in the target locale print the
// day before the month.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02/01/06",
	"02-01-06",
	"02.01.2006",
}

// ParseDate parses a receipt date in one of the accepted layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParsedDate returns the payload date when present and parseable.
func (p Payload) ParsedDate() (time.Time, bool) {
	if p.Date == nil {
		return time.Time{}, false
	}
	return ParseDate(*p.Date)
}

// Item builds a raw candidate with a numeric price.
func Item(name string, price float64) items.Raw {
	return items.Raw{Name: name, Price: money.NumericPrice(price)}
}
