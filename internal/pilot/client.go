package pilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// HTTPClient talks to the note service over its JSON API. A 429 response is
// translated into ThrottleError carrying the Retry-After header.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewHTTPClient(baseURL string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{},
		logger:  logger.Named("pilot_client"),
	}
}

func (c *HTTPClient) Preview(ctx context.Context, req NoteRequest) (string, error) {
	var out struct {
		Preview string `json:"preview"`
	}
	if err := c.post(ctx, "/v1/notes/preview", "", req, &out); err != nil {
		return "", err
	}
	return out.Preview, nil
}

func (c *HTTPClient) Create(ctx context.Context, idempotencyKey string, req NoteRequest) (NoteReceipt, error) {
	var receipt NoteReceipt
	if err := c.post(ctx, "/v1/notes", idempotencyKey, req, &receipt); err != nil {
		return NoteReceipt{}, err
	}
	return receipt, nil
}

func (c *HTTPClient) Revert(ctx context.Context, idempotencyKey, reason string) error {
	body := struct {
		Reason string `json:"reason"`
	}{Reason: reason}
	return c.post(ctx, "/v1/notes/revert", idempotencyKey, body, nil)
}

func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("pilot: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("pilot: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pilot: call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &ThrottleError{
			RetryAfter: retryAfterHeader(resp),
			Cause:      fmt.Errorf("note service throttled %s", path),
		}
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("pilot: %s returned %d: %s", path, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("pilot: decode %s response: %w", path, err)
	}
	return nil
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 1 * time.Second
}
