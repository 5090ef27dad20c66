package refresh

import (
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aslobodnik/health-sync/internal/domain"
)

type blockingRefresher struct {
	mu      sync.Mutex
	calls   []domain.Stream
	release chan struct{}
}

func newBlockingRefresher() *blockingRefresher {
	return &blockingRefresher{release: make(chan struct{})}
}

func (b *blockingRefresher) Refresh(_ context.Context, stream domain.Stream) error {
	b.mu.Lock()
	b.calls = append(b.calls, stream)
	b.mu.Unlock()
	<-b.release
	return nil
}

func (b *blockingRefresher) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type stubPublisher struct {
	mu     sync.Mutex
	events []IngestCompleted
	err    error
}

func (s *stubPublisher) PublishIngestCompleted(_ context.Context, event IngestCompleted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func TestTriggerCoalescesWhileRunning(t *testing.T) {
	refresher := newBlockingRefresher()
	trigger := NewTrigger(refresher, nil, time.Minute, log.New(log.Writer(), "", 0))

	require.False(t, trigger.Fire(domain.StreamHeartRate, "d1"), "first fire starts a refresh")

	require.Eventually(t, func() bool { return refresher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// Three more cycles complete while the refresh runs: all collapse into
	// one follow-up.
	require.True(t, trigger.Fire(domain.StreamStepCount, "d1"))
	require.True(t, trigger.Fire(domain.StreamSleep, "d1"))
	require.True(t, trigger.Fire(domain.StreamBodyMass, "d1"))

	close(refresher.release)

	require.Eventually(t, func() bool { return refresher.callCount() == 2 }, time.Second, 5*time.Millisecond)

	// Settled: no further refreshes appear.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, refresher.callCount())

	refresher.mu.Lock()
	followUp := refresher.calls[1]
	refresher.mu.Unlock()
	require.Equal(t, domain.StreamBodyMass, followUp, "follow-up runs for the latest requested stream")
}

func TestTriggerRunsAgainAfterSettling(t *testing.T) {
	refresher := newBlockingRefresher()
	close(refresher.release)
	trigger := NewTrigger(refresher, nil, time.Minute, log.New(log.Writer(), "", 0))

	require.False(t, trigger.Fire(domain.StreamHeartRate, "d1"))
	require.Eventually(t, func() bool { return refresher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// Wait for the run loop to release the running flag, then fire again.
	require.Eventually(t, func() bool {
		trigger.mu.Lock()
		defer trigger.mu.Unlock()
		return !trigger.running
	}, time.Second, 5*time.Millisecond)

	require.False(t, trigger.Fire(domain.StreamHeartRate, "d1"))
	require.Eventually(t, func() bool { return refresher.callCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestTriggerPublishesEvent(t *testing.T) {
	refresher := newBlockingRefresher()
	close(refresher.release)
	publisher := &stubPublisher{}
	trigger := NewTrigger(refresher, publisher, time.Minute, log.New(log.Writer(), "", 0))

	trigger.Fire(domain.StreamHeartRate, "device-1")

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.events, 1)
	require.Equal(t, "heart-rate", publisher.events[0].Stream)
	require.Equal(t, "device-1", publisher.events[0].DeviceID)
	require.False(t, publisher.events[0].OccurredAt.IsZero())
}

func TestTriggerPublishFailureDoesNotBlockRefresh(t *testing.T) {
	refresher := newBlockingRefresher()
	close(refresher.release)
	publisher := &stubPublisher{err: errors.New("broker down")}
	trigger := NewTrigger(refresher, publisher, time.Minute, log.New(log.Writer(), "", 0))

	require.False(t, trigger.Fire(domain.StreamHeartRate, "d1"))
	require.Eventually(t, func() bool { return refresher.callCount() == 1 }, time.Second, 5*time.Millisecond)
}
