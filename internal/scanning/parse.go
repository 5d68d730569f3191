package scanning

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zombor/plannel/internal/ocr"
)

// ErrNoJSON is returned when a model response holds no JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

// extractJSON cuts the outermost JSON object out of a model response,
// dropping markdown fences and any chatter around it.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// parsePayload turns a model response into an OCR payload, deriving
// whatever the model left out from its raw text lines.
func parsePayload(text string) (*ocr.Payload, error) {
	doc, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	p, err := ocr.Decode([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	p = ocr.FillFromLines(p)
	return &p, nil
}
