// Package ingest implements the idempotent, transactional batch ingestion
// service.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aslobodnik/health-sync/internal/domain"
	"github.com/aslobodnik/health-sync/internal/observability"
	"github.com/aslobodnik/health-sync/internal/wire"
)

// ErrMalformed marks a batch that cannot be processed as submitted.
var ErrMalformed = errors.New("malformed batch")

// Result reports per-batch dispositions.
type Result struct {
	Inserted  int
	Duplicate int
	Deleted   int
}

// BatchWriter is the storage contract: all-or-nothing persistence of one
// batch with insert-or-ignore semantics per row.
type BatchWriter interface {
	Write(ctx context.Context, batch *domain.SyncBatch) (Result, error)
}

// Service validates incoming batches, recomputes content hashes, and writes
// them atomically.
type Service struct {
	writer     BatchWriter
	maxSamples int
}

// NewService constructs a Service. Batches carrying more than maxSamples
// records or workouts are rejected as malformed; zero disables the cap.
func NewService(writer BatchWriter, maxSamples int) *Service {
	return &Service{writer: writer, maxSamples: maxSamples}
}

// IngestBatch processes one uploaded batch. Hashes supplied by the caller are
// ignored; the service derives each hash from the canonical identity fields
// itself, so a forged hash can neither hide a new record nor shadow an
// existing one.
func (s *Service) IngestBatch(ctx context.Context, req wire.BatchRequest) (Result, error) {
	if s.maxSamples > 0 && len(req.Records)+len(req.Workouts) > s.maxSamples {
		return Result{}, fmt.Errorf("%w: batch exceeds %d samples", ErrMalformed, s.maxSamples)
	}
	batch, err := toBatch(req)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	result, err := s.writer.Write(ctx, batch)
	if err != nil {
		observability.RecordIngestFailure()
		return Result{}, err
	}
	observability.RecordIngestedBatch(result.Inserted, result.Duplicate, time.Since(start))
	return result, nil
}

func toBatch(req wire.BatchRequest) (*domain.SyncBatch, error) {
	if req.Stream == "" {
		return nil, fmt.Errorf("%w: missing stream", ErrMalformed)
	}
	if len(req.Records) > 0 && len(req.Workouts) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, domain.ErrMixedBatch)
	}

	batch := &domain.SyncBatch{
		BatchID:     req.BatchID,
		Stream:      domain.Stream(req.Stream),
		Deletions:   req.Deletions,
		DeviceID:    req.DeviceID,
		AssembledAt: req.AssembledAt,
	}

	for i, in := range req.Records {
		if in.SourceName == "" || in.StartTime.IsZero() || in.EndTime.IsZero() {
			return nil, fmt.Errorf("%w: record %d missing identity fields", ErrMalformed, i)
		}
		rec := domain.CanonicalRecord{
			Stream:         domain.Stream(in.Stream),
			SourceName:     in.SourceName,
			SourceVersion:  in.SourceVersion,
			SourceBundleID: in.SourceBundleID,
			Device:         in.Device,
			Unit:           in.Unit,
			ValueNumeric:   in.ValueNumeric,
			ValueText:      in.ValueText,
			StartTime:      in.StartTime.UTC(),
			EndTime:        in.EndTime.UTC(),
			CreationTime:   in.CreationTime,
			Metadata:       in.Metadata,
		}
		if rec.Stream == "" {
			rec.Stream = batch.Stream
		}
		rec.Hash = domain.RecordHash(rec.Stream, rec.SourceName, rec.StartTime, rec.EndTime, rec.ValueNumeric, rec.ValueText)
		batch.Records = append(batch.Records, rec)
	}

	for i, in := range req.Workouts {
		if in.ActivityType == "" || in.SourceName == "" || in.StartTime.IsZero() || in.EndTime.IsZero() {
			return nil, fmt.Errorf("%w: workout %d missing identity fields", ErrMalformed, i)
		}
		w := domain.CanonicalWorkout{
			ActivityType:    in.ActivityType,
			SourceName:      in.SourceName,
			SourceVersion:   in.SourceVersion,
			SourceBundleID:  in.SourceBundleID,
			Device:          in.Device,
			StartTime:       in.StartTime.UTC(),
			EndTime:         in.EndTime.UTC(),
			DurationSeconds: in.DurationSeconds,
			TotalDistanceKm: in.TotalDistanceKm,
			TotalEnergyKcal: in.TotalEnergyKcal,
			AvgHeartRate:    in.AvgHeartRate,
			MinHeartRate:    in.MinHeartRate,
			MaxHeartRate:    in.MaxHeartRate,
			Metadata:        in.Metadata,
		}
		w.Hash = domain.WorkoutHash(w.ActivityType, w.SourceName, w.StartTime, w.EndTime, w.DurationSeconds)
		batch.Workouts = append(batch.Workouts, w)
	}

	return batch, nil
}
