package refresh

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aslobodnik/health-sync/internal/domain"
)

// HTTPRefresher calls the analytics layer's materialized-view refresh
// endpoint.
type HTTPRefresher struct {
	client *http.Client
	url    string
	token  string
}

// NewHTTPRefresher constructs an HTTPRefresher.
func NewHTTPRefresher(endpoint, token string, timeout time.Duration) *HTTPRefresher {
	return &HTTPRefresher{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

// Refresh triggers an HTTP POST naming the stream whose aggregates went
// stale.
func (h *HTTPRefresher) Refresh(ctx context.Context, stream domain.Stream) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(string(stream)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &RefreshError{Status: resp.StatusCode}
	}
	return nil
}

// RefreshError represents a non-successful refresh response.
type RefreshError struct {
	Status int
}

func (e *RefreshError) Error() string {
	return "aggregate refresh failed with status " + http.StatusText(e.Status)
}
