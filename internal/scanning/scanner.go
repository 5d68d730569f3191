package scanning

import "github.com/zombor/plannel/internal/ocr"

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt reads a receipt image/PDF and returns the OCR payload
	ScanReceipt(imageData []byte, contentType string) (*ocr.Payload, error)
	// Close closes the scanner and releases resources
	Close() error
}
