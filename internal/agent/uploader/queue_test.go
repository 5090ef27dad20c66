package uploader

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aslobodnik/health-sync/internal/wire"
)

type stubUploader struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	order    []string
	err      error
}

func (s *stubUploader) Upload(_ context.Context, batch wire.BatchRequest) (*wire.BatchResponse, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.order = append(s.order, batch.BatchID)
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &wire.BatchResponse{Inserted: 1}, nil
}

func TestQueueSerializesUploads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := &stubUploader{}
	queue := NewQueue(stub, 8, log.New(log.Writer(), "", 0))
	go queue.Start(ctx)

	var wg sync.WaitGroup
	ids := []string{"b1", "b2", "b3", "b4"}
	for _, id := range ids {
		wg.Add(1)
		job := Job{
			Payload: wire.BatchRequest{BatchID: id},
			Done:    func(*wire.BatchResponse, error) { wg.Done() },
		}
		require.NoError(t, queue.Enqueue(job))
	}
	wg.Wait()
	cancel()
	queue.Wait()

	require.Equal(t, 1, stub.maxSeen, "only one upload may be in flight at a time")
	require.Equal(t, ids, stub.order, "uploads must drain in enqueue order")
}

func TestQueueReportsOutcomeToDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := &stubUploader{err: errors.New("boom")}
	queue := NewQueue(stub, 8, log.New(log.Writer(), "", 0))
	go queue.Start(ctx)

	outcome := make(chan error, 1)
	require.NoError(t, queue.Enqueue(Job{
		Payload: wire.BatchRequest{BatchID: "b1"},
		Done:    func(_ *wire.BatchResponse, err error) { outcome <- err },
	}))
	require.EqualError(t, <-outcome, "boom")
}

func TestQueueEnqueueFullIsNonBlocking(t *testing.T) {
	// No drain loop running: the buffer fills and the next enqueue must
	// fail immediately instead of blocking the sync cycle.
	queue := NewQueue(&stubUploader{}, 2, log.New(log.Writer(), "", 0))

	require.NoError(t, queue.Enqueue(Job{Payload: wire.BatchRequest{BatchID: "b1"}}))
	require.NoError(t, queue.Enqueue(Job{Payload: wire.BatchRequest{BatchID: "b2"}}))
	require.ErrorIs(t, queue.Enqueue(Job{Payload: wire.BatchRequest{BatchID: "b3"}}), ErrQueueFull)
	require.Equal(t, 2, queue.Depth())
}
