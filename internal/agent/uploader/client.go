// Package uploader delivers assembled batches to the ingestion endpoint.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aslobodnik/health-sync/internal/wire"
)

// ErrRejected marks an ingestion rejection (bad credential or malformed
// payload). Rejections are surfaced to the operator and not retried
// automatically; the credential or payload must be fixed first.
var ErrRejected = errors.New("batch rejected by ingestion service")

// Client posts one batch per request to the ingestion endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a Client. The timeout is the per-request operation
// budget; an upload that exceeds it fails visibly and is retried on the next
// trigger.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Upload delivers a single batch and returns the server's counts.
func (c *Client) Upload(ctx context.Context, batch wire.BatchRequest) (*wire.BatchResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sync/batches", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload batch %s: %w", batch.BatchID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out wire.BatchResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &out, nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrRejected, readReason(resp.Body))
	default:
		// Storage failures and everything else look like transport errors
		// to the caller: the cursor stays put and the window is re-fetched.
		return nil, fmt.Errorf("upload batch %s: status %d: %s", batch.BatchID, resp.StatusCode, readReason(resp.Body))
	}
}

// NotifyComplete tells the server one sync cycle finished, so downstream
// aggregate refresh fires once per cycle instead of once per batch. Best
// effort: a failure here never blocks the cursor commit that preceded it.
func (c *Client) NotifyComplete(ctx context.Context, stream, deviceID string) error {
	body, err := json.Marshal(map[string]string{"stream": stream, "device_id": deviceID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sync/complete", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sync complete: status %d", resp.StatusCode)
	}
	return nil
}

func readReason(r io.Reader) string {
	var e wire.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&e); err != nil || e.Type == "" {
		return "no detail"
	}
	return e.Type + ": " + e.Detail
}
