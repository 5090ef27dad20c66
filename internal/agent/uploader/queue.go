package uploader

import (
	"context"
	"errors"
	"log"

	"github.com/aslobodnik/health-sync/internal/observability"
	"github.com/aslobodnik/health-sync/internal/wire"
)

// ErrQueueFull is returned when the upload queue cannot accept another batch.
// The caller leaves its cursor untouched and retries on the next trigger.
var ErrQueueFull = errors.New("upload queue full")

// BatchUploader is what the queue drains through; *Client in production,
// stubs in tests.
type BatchUploader interface {
	Upload(ctx context.Context, batch wire.BatchRequest) (*wire.BatchResponse, error)
}

// Job is one queued upload. Done is invoked exactly once with the outcome;
// for deferred deliveries it fires asynchronously after the server responds.
type Job struct {
	Payload wire.BatchRequest
	Done    func(*wire.BatchResponse, error)
}

// Queue serializes uploads: one batch in flight end-to-end at a time, across
// all streams. This keeps cursor commits ordered and bounds network use.
type Queue struct {
	client           BatchUploader
	jobs             chan Job
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewQueue constructs a Queue with the given buffer capacity.
func NewQueue(client BatchUploader, capacity int, logger *log.Logger) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[uploader] ", log.LstdFlags)
	}
	return &Queue{
		client:           client,
		jobs:             make(chan Job, capacity),
		logger:           logger,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the drain loop. It should be called in a goroutine.
func (q *Queue) Start(ctx context.Context) {
	defer close(q.shutdownComplete)

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			observability.SetUploadQueueDepth(len(q.jobs))
			resp, err := q.client.Upload(ctx, job.Payload)
			if err != nil {
				observability.RecordUpload("failure")
				q.logger.Printf("upload failed (batch=%s stream=%s): %v", job.Payload.BatchID, job.Payload.Stream, err)
			} else {
				observability.RecordUpload("success")
			}
			if job.Done != nil {
				job.Done(resp, err)
			}
		}
	}
}

// Enqueue hands a batch to the queue without blocking.
func (q *Queue) Enqueue(job Job) error {
	select {
	case q.jobs <- job:
		observability.SetUploadQueueDepth(len(q.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth reports the number of batches waiting.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Wait blocks until the drain loop exits.
func (q *Queue) Wait() {
	<-q.shutdownComplete
}
