package scanning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/plannel/internal/ocr"
)

// DefaultRemoteTimeout bounds a single call to the OCR service.
const DefaultRemoteTimeout = 20 * time.Second

// Remote implements the Scanner interface against the receipt OCR service,
// which answers POST /ocr/receipt with an OCR payload.
type Remote struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewRemote creates a client for the OCR service at baseURL. A zero timeout
// uses DefaultRemoteTimeout.
func NewRemote(baseURL string, timeout time.Duration) (*Remote, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ocr service url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &Remote{
		endpoint: strings.TrimRight(u.String(), "/") + "/ocr/receipt",
		timeout:  timeout,
		client:   &http.Client{},
	}, nil
}

// RewriteHost points a loopback base URL at host instead. Emulators reach
// the machine running them through an alias (10.0.2.2 on Android), so
// "localhost" in shared config would otherwise hit the emulator itself.
// Other URLs, or an empty host, are returned unchanged.
func RewriteHost(baseURL, host string) string {
	if host == "" {
		return baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1":
	default:
		return baseURL
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}
	return u.String()
}

// ScanReceipt uploads the image and decodes the returned payload. A
// transport failure is retried exactly once; an HTTP error status is not.
func (r *Remote) ScanReceipt(imageData []byte, contentType string) (*ocr.Payload, error) {
	data, mimeType, filename, err := prepareUpload(imageData, contentType)
	if err != nil {
		return nil, err
	}

	body, formType, err := multipartBody(data, mimeType, filename)
	if err != nil {
		return nil, err
	}

	resp, err := r.post(body, formType)
	if err != nil {
		slog.Warn("OCR request failed, retrying once", "error", err)
		resp, err = r.post(body, formType)
		if err != nil {
			return nil, fmt.Errorf("calling ocr service: %w", err)
		}
	}

	if resp.status < 200 || resp.status > 299 {
		text := strings.TrimSpace(string(resp.body))
		if text == "" {
			text = "OCR failed"
		}
		return nil, fmt.Errorf("ocr service error (status %d): %s", resp.status, text)
	}

	payload, err := ocr.Decode(resp.body)
	if err != nil {
		return nil, fmt.Errorf("decoding ocr response: %w", err)
	}
	return &payload, nil
}

type remoteResponse struct {
	status int
	body   []byte
}

// post performs one attempt under its own deadline. The body is read
// inside the deadline so a stalled response counts as a transport failure.
func (r *Remote) post(body []byte, formType string) (*remoteResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", formType)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &remoteResponse{status: resp.StatusCode, body: data}, nil
}

func multipartBody(data []byte, mimeType, filename string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("writing form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Close is a no-op for the HTTP client
func (r *Remote) Close() error {
	return nil
}
