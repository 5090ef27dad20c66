// Package refresh signals the analytics layer that precomputed aggregates may
// be stale.
package refresh

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aslobodnik/health-sync/internal/domain"
	"github.com/aslobodnik/health-sync/internal/observability"
)

// Refresher performs one aggregate-view refresh. Implementations belong to
// the analytics layer; this package only guards how often they run.
type Refresher interface {
	Refresh(ctx context.Context, stream domain.Stream) error
}

// NoopRefresher is used when no analytics endpoint is configured.
type NoopRefresher struct{}

// Refresh performs no action.
func (NoopRefresher) Refresh(context.Context, domain.Stream) error { return nil }

// EventPublisher announces a completed sync cycle to interested consumers.
type EventPublisher interface {
	PublishIngestCompleted(ctx context.Context, event IngestCompleted) error
}

// IngestCompleted is emitted once per completed sync cycle.
type IngestCompleted struct {
	Stream     string    `json:"stream"`
	DeviceID   string    `json:"device_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Trigger coalesces refresh requests: at most one refresh runs at a time, and
// requests arriving mid-refresh collapse into a single follow-up run. Nothing
// queues unboundedly.
type Trigger struct {
	refresher Refresher
	publisher EventPublisher
	timeout   time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	running bool
	pending *domain.Stream
}

// NewTrigger constructs a Trigger. publisher may be nil.
func NewTrigger(refresher Refresher, publisher EventPublisher, timeout time.Duration, logger *log.Logger) *Trigger {
	if refresher == nil {
		refresher = NoopRefresher{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[refresh] ", log.LstdFlags)
	}
	return &Trigger{refresher: refresher, publisher: publisher, timeout: timeout, logger: logger}
}

// Fire requests a refresh after a completed sync cycle. Returns true if the
// request was coalesced into a refresh already in flight.
func (t *Trigger) Fire(stream domain.Stream, deviceID string) bool {
	if t.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		event := IngestCompleted{Stream: string(stream), DeviceID: deviceID, OccurredAt: time.Now().UTC()}
		if err := t.publisher.PublishIngestCompleted(ctx, event); err != nil {
			t.logger.Printf("publish ingest event: %v", err)
		}
		cancel()
	}

	t.mu.Lock()
	if t.running {
		s := stream
		t.pending = &s
		t.mu.Unlock()
		observability.RecordRefreshTrigger("coalesced")
		return true
	}
	t.running = true
	t.mu.Unlock()

	go t.run(stream)
	observability.RecordRefreshTrigger("started")
	return false
}

func (t *Trigger) run(stream domain.Stream) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		err := t.refresher.Refresh(ctx, stream)
		cancel()
		if err != nil {
			t.logger.Printf("refresh failed (stream=%s): %v", stream, err)
			observability.RecordRefreshTrigger("failed")
		}

		t.mu.Lock()
		if t.pending == nil {
			t.running = false
			t.mu.Unlock()
			return
		}
		stream = *t.pending
		t.pending = nil
		t.mu.Unlock()
	}
}
