// Package remote is the narrow HTTP primitive workers use to reach the
// document and completion endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of a failed response is kept in NetworkError.
const maxErrorBody = 4 << 10

// NetworkError is returned for transport failures and non-2xx responses.
// StatusCode is 0 when no response was received.
type NetworkError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("network error: %v", e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Client performs JSON requests. The zero value is not usable; call NewClient.
type Client struct {
	http   *http.Client
	apiKey string
}

// NewClient builds a client. A zero timeout means requests are bounded only by ctx.
func NewClient(timeout time.Duration, apiKey string) *Client {
	return &Client{
		http:   &http.Client{Timeout: timeout},
		apiKey: apiKey,
	}
}

// Do sends body (may be nil) and returns the JSON response body.
// An empty 2xx response yields JSON null.
func (c *Client) Do(ctx context.Context, method, url string, body json.RawMessage) (json.RawMessage, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &NetworkError{
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(raw)),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(raw) {
		return nil, &NetworkError{StatusCode: resp.StatusCode, Err: fmt.Errorf("response is not valid JSON")}
	}
	return json.RawMessage(raw), nil
}
