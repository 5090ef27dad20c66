package domain

import (
	"errors"
	"time"
)

// ErrMixedBatch is returned when a batch would carry both records and workouts.
var ErrMixedBatch = errors.New("batch cannot mix records and workouts")

// SyncBatch is the unit of upload and the unit of ingestion atomicity.
// Records and Workouts are mutually exclusive. Deletions list source
// identifiers of samples removed at the origin; the assembler attaches them
// to the first batch of a fetch only.
type SyncBatch struct {
	BatchID     string
	Stream      Stream
	Records     []CanonicalRecord
	Workouts    []CanonicalWorkout
	Deletions   []string
	DeviceID    string
	AssembledAt time.Time
}

// Len reports the number of samples carried by the batch.
func (b *SyncBatch) Len() int {
	if len(b.Workouts) > 0 {
		return len(b.Workouts)
	}
	return len(b.Records)
}

// Validate enforces the record/workout exclusivity rule.
func (b *SyncBatch) Validate() error {
	if len(b.Records) > 0 && len(b.Workouts) > 0 {
		return ErrMixedBatch
	}
	return nil
}
