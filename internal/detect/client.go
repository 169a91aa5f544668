// Package detect calls the aiornot.com image classification endpoint.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// DefaultEndpoint is the aiornot image report endpoint.
const DefaultEndpoint = "https://api.aiornot.com/v1/reports/image"

// formBoundary is the fixed multipart boundary the endpoint is known to
// accept. The service rejects some client-generated boundaries, so the
// request is built by hand instead of with mime/multipart.
const formBoundary = "----WebKitFormBoundary7MA4YWxkTrZu0gW"

const fallbackMime = "application/octet-stream"

// Client posts image bytes to the detection endpoint and extracts the
// verdict from the response.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// NewClient creates a detection client. A zero timeout leaves the HTTP
// client without a deadline.
func NewClient(log *slog.Logger, apiKey, endpoint string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		logger:     log.With(slog.String("component", "detect")),
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

type reportResponse struct {
	Report struct {
		Verdict string `json:"verdict"`
	} `json:"report"`
}

// Detect submits the image and returns the provider's verdict string
// verbatim. Any non-200 status, unparsable body, or missing verdict is an
// error; no verdict enumeration is enforced locally.
func (c *Client) Detect(ctx context.Context, filename string, data []byte) (string, error) {
	body := buildBody(filename, data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build detection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+formBoundary)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("detection request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("detection endpoint returned status %d", resp.StatusCode)
	}

	var report reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return "", fmt.Errorf("decode detection response: %w", err)
	}
	if report.Report.Verdict == "" {
		return "", fmt.Errorf("detection response missing report.verdict")
	}

	c.logger.Debug("image classified",
		slog.String("filename", filename),
		slog.String("verdict", report.Report.Verdict),
	)
	return report.Report.Verdict, nil
}

// buildBody assembles the multipart body: a single part named "object"
// carrying the raw bytes, with a MIME type guessed from the filename
// extension.
func buildBody(filename string, data []byte) []byte {
	parts := [][]byte{
		[]byte("--" + formBoundary),
		[]byte(fmt.Sprintf("Content-Disposition: form-data; name=%q; filename=%q", "object", filename)),
		[]byte("Content-Type: " + guessMime(filename)),
		nil,
		data,
		[]byte("--" + formBoundary + "--"),
		nil,
	}
	return bytes.Join(parts, []byte("\r\n"))
}

func guessMime(filename string) string {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if mimeType == "" {
		return fallbackMime
	}
	return mimeType
}
