// Package batch chunks normalized samples into bounded upload units.
package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/aslobodnik/health-sync/internal/domain"
)

// DefaultMaxBatchSize bounds samples per upload to keep payloads inside the
// transport limit.
const DefaultMaxBatchSize = 1000

// Assembler produces SyncBatches from a normalized fetch result.
type Assembler struct {
	maxSize  int
	deviceID string
	now      func() time.Time
}

// NewAssembler constructs an Assembler. A non-positive maxSize falls back to
// DefaultMaxBatchSize.
func NewAssembler(maxSize int, deviceID string) *Assembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	return &Assembler{maxSize: maxSize, deviceID: deviceID, now: time.Now}
}

// Assemble chunks one fetch's samples into ordered batches. Records and
// workouts never share a batch; deletion markers ride on the first batch only
// so the server processes each tombstone once.
func (a *Assembler) Assemble(stream domain.Stream, samples []domain.Sample, deletions []string) []domain.SyncBatch {
	var records []domain.CanonicalRecord
	var workouts []domain.CanonicalWorkout
	for _, sample := range samples {
		switch sample.Kind {
		case domain.KindWorkout:
			if sample.Workout != nil {
				workouts = append(workouts, *sample.Workout)
			}
		case domain.KindRecord:
			if sample.Record != nil {
				records = append(records, *sample.Record)
			}
		}
	}

	assembledAt := a.now().UTC()
	var batches []domain.SyncBatch

	for start := 0; start < len(records); start += a.maxSize {
		end := start + a.maxSize
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, domain.SyncBatch{
			BatchID:     uuid.NewString(),
			Stream:      stream,
			Records:     records[start:end],
			DeviceID:    a.deviceID,
			AssembledAt: assembledAt,
		})
	}

	for start := 0; start < len(workouts); start += a.maxSize {
		end := start + a.maxSize
		if end > len(workouts) {
			end = len(workouts)
		}
		batches = append(batches, domain.SyncBatch{
			BatchID:     uuid.NewString(),
			Stream:      stream,
			Workouts:    workouts[start:end],
			DeviceID:    a.deviceID,
			AssembledAt: assembledAt,
		})
	}

	if len(deletions) > 0 {
		if len(batches) == 0 {
			batches = append(batches, domain.SyncBatch{
				BatchID:     uuid.NewString(),
				Stream:      stream,
				DeviceID:    a.deviceID,
				AssembledAt: assembledAt,
			})
		}
		batches[0].Deletions = deletions
	}

	return batches
}
