// Package engine orchestrates the per-stream sync cycle: fetch, normalize,
// batch, upload, and only then commit the cursor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aslobodnik/health-sync/internal/agent/batch"
	"github.com/aslobodnik/health-sync/internal/agent/cursor"
	"github.com/aslobodnik/health-sync/internal/agent/normalize"
	"github.com/aslobodnik/health-sync/internal/agent/source"
	"github.com/aslobodnik/health-sync/internal/agent/uploader"
	"github.com/aslobodnik/health-sync/internal/domain"
	"github.com/aslobodnik/health-sync/internal/observability"
	"github.com/aslobodnik/health-sync/internal/wire"
)

// Status is the operator-visible state of one stream.
type Status struct {
	Stream     domain.Stream `json:"stream"`
	LastSyncAt time.Time     `json:"last_sync_at"`
	LastError  string        `json:"last_error,omitempty"`
}

// CycleNotifier reports a completed sync cycle to the server so downstream
// invalidation fires once per cycle. Optional.
type CycleNotifier interface {
	NotifyComplete(ctx context.Context, stream, deviceID string) error
}

// Engine drives sync cycles. Cycles for one stream run strictly one at a
// time; different streams may run concurrently but share the serialized
// upload queue.
type Engine struct {
	cursors    *cursor.Store
	src        source.DeltaSource
	normalizer *normalize.Normalizer
	assembler  *batch.Assembler
	queue      *uploader.Queue
	journal    *uploader.Journal
	completer  CycleNotifier
	deviceID   string
	deferred   bool
	logger     *log.Logger

	mu       sync.Mutex
	streams  map[domain.Stream]*streamState
	inFlight map[int64]struct{}
}

type streamState struct {
	mu     sync.Mutex
	status Status
}

// Config bundles the engine's collaborators.
type Config struct {
	Cursors    *cursor.Store
	Source     source.DeltaSource
	Normalizer *normalize.Normalizer
	Assembler  *batch.Assembler
	Queue      *uploader.Queue
	Journal    *uploader.Journal
	// Completer, when set, is told after each committed cycle.
	Completer CycleNotifier
	DeviceID  string
	// Deferred selects journal-backed delivery with asynchronous
	// completion; otherwise uploads are awaited in-cycle.
	Deferred bool
	Logger   *log.Logger
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)
	}
	return &Engine{
		cursors:    cfg.Cursors,
		src:        cfg.Source,
		normalizer: cfg.Normalizer,
		assembler:  cfg.Assembler,
		queue:      cfg.Queue,
		journal:    cfg.Journal,
		completer:  cfg.Completer,
		deviceID:   cfg.DeviceID,
		deferred:   cfg.Deferred,
		logger:     logger,
		streams:    make(map[domain.Stream]*streamState),
		inFlight:   make(map[int64]struct{}),
	}
}

// Sync runs one cycle for the stream. The cursor is only written after every
// batch of the fetch is confirmed durably ingested; any failure leaves the
// old cursor in place so the same window is re-fetched on the next trigger.
func (e *Engine) Sync(ctx context.Context, stream domain.Stream) error {
	state := e.stream(stream)
	state.mu.Lock()
	defer state.mu.Unlock()

	// Interrupted deferred uploads are resolved before any new fetch, so
	// batches keep arriving at the server in assembly order.
	if e.deferred {
		if reissued, err := e.reissuePending(ctx, stream); err != nil {
			return e.fail(state, stream, err)
		} else if reissued {
			return nil
		}
	}

	stored, err := e.cursors.Get(stream)
	if err != nil {
		return e.fail(state, stream, fmt.Errorf("read cursor: %w", err))
	}
	var cur *cursor.Cursor
	if stored != nil {
		if cur, err = cursor.DecodeToken(stored.Token); err != nil {
			return e.fail(state, stream, fmt.Errorf("decode cursor: %w", err))
		}
	}

	delta, err := e.src.Fetch(ctx, stream, cur)
	if err != nil {
		return e.fail(state, stream, fmt.Errorf("fetch delta: %w", err))
	}

	samples := e.normalizer.NormalizeAll(stream, delta.Samples)
	batches := e.assembler.Assemble(stream, samples, delta.Deletions)

	token := cursor.EncodeToken(&delta.Next)
	if len(batches) == 0 {
		// Nothing qualified for upload; the window is drained.
		return e.commit(state, stream, token)
	}

	if e.deferred {
		return e.handoffDeferred(ctx, state, stream, batches, token)
	}
	return e.uploadNow(ctx, state, stream, batches, token)
}

// uploadNow awaits each batch in order through the shared queue.
func (e *Engine) uploadNow(ctx context.Context, state *streamState, stream domain.Stream, batches []domain.SyncBatch, token string) error {
	for i := range batches {
		resultCh := make(chan error, 1)
		job := uploader.Job{
			Payload: wire.FromBatch(&batches[i]),
			Done: func(_ *wire.BatchResponse, err error) {
				resultCh <- err
			},
		}
		if err := e.queue.Enqueue(job); err != nil {
			return e.fail(state, stream, err)
		}
		select {
		case <-ctx.Done():
			return e.fail(state, stream, ctx.Err())
		case err := <-resultCh:
			if err != nil {
				return e.fail(state, stream, err)
			}
		}
	}
	return e.commit(state, stream, token)
}

// handoffDeferred journals the whole batch group atomically, then enqueues
// each batch. Completion fires asynchronously; the cursor commits when the
// last entry of the group drains, even if that happens in a later process.
func (e *Engine) handoffDeferred(ctx context.Context, state *streamState, stream domain.Stream, batches []domain.SyncBatch, token string) error {
	groupID := uuid.NewString()
	entries := make([]uploader.Entry, 0, len(batches))
	payloads := make([]wire.BatchRequest, 0, len(batches))

	for i := range batches {
		payloads = append(payloads, wire.FromBatch(&batches[i]))
		entries = append(entries, uploader.Entry{
			GroupID:     groupID,
			Stream:      string(stream),
			BatchID:     batches[i].BatchID,
			CommitToken: token,
		})
	}

	entries, err := e.journal.AddGroup(ctx, entries, payloads)
	if err != nil {
		return e.fail(state, stream, fmt.Errorf("journal batch group: %w", err))
	}

	for i := range entries {
		if err := e.enqueueEntry(ctx, entries[i], payloads[i]); err != nil {
			return e.fail(state, stream, err)
		}
	}
	return nil
}

// reissuePending re-enqueues journalled uploads left over from an earlier
// run (or a failed attempt). Reports whether anything was re-issued.
func (e *Engine) reissuePending(ctx context.Context, stream domain.Stream) (bool, error) {
	entries, err := e.journal.Pending(ctx)
	if err != nil {
		return false, fmt.Errorf("scan pending uploads: %w", err)
	}

	reissued := false
	for _, entry := range entries {
		if stream != "" && entry.Stream != string(stream) {
			continue
		}
		if !e.claim(entry.ID) {
			reissued = true // already in flight
			continue
		}
		payload, err := e.journal.Load(entry)
		if err != nil {
			e.release(entry.ID)
			return reissued, err
		}
		if err := e.enqueueEntry(ctx, entry, payload); err != nil {
			return reissued, err
		}
		reissued = true
	}
	return reissued, nil
}

// Recover re-issues every pending deferred upload, across all streams. Call
// once at process start, after the queue is running.
func (e *Engine) Recover(ctx context.Context) error {
	if !e.deferred {
		return nil
	}
	_, err := e.reissuePending(ctx, "")
	return err
}

func (e *Engine) enqueueEntry(ctx context.Context, entry uploader.Entry, payload wire.BatchRequest) error {
	stream := domain.Stream(entry.Stream)
	job := uploader.Job{
		Payload: payload,
		Done: func(_ *wire.BatchResponse, err error) {
			e.release(entry.ID)
			state := e.stream(stream)
			if err != nil {
				e.recordError(state, stream, err)
				return
			}
			remaining, cerr := e.journal.Complete(ctx, entry)
			if cerr != nil {
				e.recordError(state, stream, fmt.Errorf("complete journal entry: %w", cerr))
				return
			}
			if remaining == 0 {
				if cerr := e.commitAsync(state, stream, entry.CommitToken); cerr != nil {
					e.recordError(state, stream, cerr)
				}
			}
		},
	}
	if err := e.queue.Enqueue(job); err != nil {
		e.release(entry.ID)
		return err
	}
	return nil
}

func (e *Engine) commit(state *streamState, stream domain.Stream, token string) error {
	now := time.Now().UTC()
	if err := e.cursors.Set(stream, cursor.State{Token: token, SyncedAt: now}); err != nil {
		return e.fail(state, stream, fmt.Errorf("commit cursor: %w", err))
	}
	state.status = Status{Stream: stream, LastSyncAt: now}
	observability.RecordSyncCommitted(string(stream), now)
	e.notifyComplete(stream)
	return nil
}

// notifyComplete is best effort: invalidation is advisory, the data is
// already durable.
func (e *Engine) notifyComplete(stream domain.Stream) {
	if e.completer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.completer.NotifyComplete(ctx, string(stream), e.deviceID); err != nil {
		e.logger.Printf("stream %s: notify sync complete: %v", stream, err)
	}
}

// commitAsync is the deferred-completion variant; the stream lock is not
// held by the upload goroutine.
func (e *Engine) commitAsync(state *streamState, stream domain.Stream, token string) error {
	now := time.Now().UTC()
	if err := e.cursors.Set(stream, cursor.State{Token: token, SyncedAt: now}); err != nil {
		return fmt.Errorf("commit cursor: %w", err)
	}
	state.mu.Lock()
	state.status = Status{Stream: stream, LastSyncAt: now}
	state.mu.Unlock()
	observability.RecordSyncCommitted(string(stream), now)
	e.notifyComplete(stream)
	return nil
}

// Reset clears the stream's cursor so the next fetch uses the bounded
// backfill window. Operator-facing.
func (e *Engine) Reset(stream domain.Stream) error {
	return e.cursors.Clear(stream)
}

// StreamStatus reports one stream's status, falling back to the persisted
// cursor state when the engine has not synced it this process.
func (e *Engine) StreamStatus(stream domain.Stream) (Status, error) {
	state := e.stream(stream)
	state.mu.Lock()
	status := state.status
	state.mu.Unlock()

	if !status.LastSyncAt.IsZero() || status.LastError != "" {
		return status, nil
	}
	stored, err := e.cursors.Get(stream)
	if err != nil {
		return Status{}, err
	}
	if stored != nil {
		status.LastSyncAt = stored.SyncedAt
	}
	return status, nil
}

func (e *Engine) stream(stream domain.Stream) *streamState {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.streams[stream]
	if !ok {
		state = &streamState{status: Status{Stream: stream}}
		e.streams[stream] = state
	}
	return state
}

func (e *Engine) claim(entryID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[entryID]; busy {
		return false
	}
	e.inFlight[entryID] = struct{}{}
	return true
}

func (e *Engine) release(entryID int64) {
	e.mu.Lock()
	delete(e.inFlight, entryID)
	e.mu.Unlock()
}

// fail records the error while holding the stream lock and returns it.
// Failures never escalate past the stream: other streams keep syncing.
func (e *Engine) fail(state *streamState, stream domain.Stream, err error) error {
	state.status.Stream = stream
	state.status.LastError = err.Error()
	observability.RecordSyncFailure(string(stream))
	if errors.Is(err, uploader.ErrRejected) {
		e.logger.Printf("stream %s rejected by server, operator action required: %v", stream, err)
	} else {
		e.logger.Printf("stream %s sync failed: %v", stream, err)
	}
	return err
}

func (e *Engine) recordError(state *streamState, stream domain.Stream, err error) {
	state.mu.Lock()
	state.status.Stream = stream
	state.status.LastError = err.Error()
	state.mu.Unlock()
	observability.RecordSyncFailure(string(stream))
	e.logger.Printf("stream %s deferred upload failed: %v", stream, err)
}
