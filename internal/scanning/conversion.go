package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// receiptScanPrompt is the shared prompt used by all LLM providers. It asks
// for the same payload the OCR service returns.
const receiptScanPrompt = `You are reading a photographed shop receipt, most likely in Spanish. Read every line of text in the image and return the following JSON object:

{
  "merchant": "Store name as printed at the top",
  "date": "YYYY-MM-DD",
  "total": 0.00,
  "items": [{"name": "Product as printed", "price": 0.00}],
  "raw_text": ["every text line, top to bottom"],
  "confidence": 0.0,
  "language": "es"
}

Rules:
- "total" is the final amount paid (TOTAL, IMPORTE, A PAGAR), as a number
- "items" lists purchased products only; skip taxes (IVA), discounts, shipping and subtotal lines
- Prices are numbers with a dot as decimal separator; copy them as printed and never correct them
- "raw_text" holds the receipt lines exactly as read, one string per line
- "confidence" is your confidence in the reading between 0 and 1
- "language" is the ISO 639-1 code of the receipt language
- Use null for any field you cannot read
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG re-encodes JPEG, GIF, PNG or HEIC data as PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format (want JPEG, PNG, GIF, HEIC or PDF): %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat sniffs the ftyp box for a HEIC/HEIF brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = normalizeMimeType(mimeType)
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

// prepareImageData converts anything that is not already PNG to PNG, which
// every LLM provider accepts. It reports whether a conversion happened.
func prepareImageData(imageData []byte, contentType string) ([]byte, bool, error) {
	mimeType := normalizeMimeType(contentType)

	switch {
	case mimeType == "application/pdf":
		data, err := pdfToImage(imageData)
		if err != nil {
			return nil, false, fmt.Errorf("converting PDF to image: %w", err)
		}
		return data, true, nil
	case mimeType != "image/png" || isHEICFormat(imageData):
		data, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, false, fmt.Errorf("converting image to PNG: %w", err)
		}
		return data, true, nil
	}
	return imageData, false, nil
}

// prepareUpload readies an image for the OCR service, which decodes JPEG and
// PNG itself. PDFs and HEIC photos are converted to PNG first. It returns the
// data, its MIME type and the file name to upload under.
func prepareUpload(imageData []byte, contentType string) ([]byte, string, string, error) {
	mimeType := normalizeMimeType(contentType)

	if (mimeType == "image/jpeg" || mimeType == "image/jpg") && !isHEICFormat(imageData) {
		return imageData, "image/jpeg", "ticket.jpg", nil
	}
	if mimeType == "image/png" {
		return imageData, "image/png", "ticket.png", nil
	}

	data, _, err := prepareImageData(imageData, mimeType)
	if err != nil {
		return nil, "", "", err
	}
	return data, "image/png", "ticket.png", nil
}
