// Package domain defines the canonical representation of synced health data.
package domain

import "time"

// Stream names a category of same-shaped samples. The set is open: new
// streams partition data without any registration step.
type Stream string

// Streams produced by the current device bridge.
const (
	StreamHeartRate    Stream = "heart-rate"
	StreamStepCount    Stream = "step-count"
	StreamRestingHR    Stream = "resting-heart-rate"
	StreamBodyMass     Stream = "body-mass"
	StreamSleep        Stream = "sleep-analysis"
	StreamDistance     Stream = "distance"
	StreamActiveEnergy Stream = "active-energy"
	StreamWorkouts     Stream = "workouts"
)

// SampleKind discriminates the closed record/workout variant.
type SampleKind string

const (
	KindRecord  SampleKind = "record"
	KindWorkout SampleKind = "workout"
)

// CanonicalRecord is the normalized, hash-bearing form of a single sample.
// Immutable once built: ingestion either inserts it or drops it as a
// duplicate, never updates it.
type CanonicalRecord struct {
	Stream         Stream
	SourceName     string
	SourceVersion  string
	SourceBundleID string
	Device         string
	Unit           string
	ValueNumeric   *float64
	ValueText      string
	StartTime      time.Time
	EndTime        time.Time
	CreationTime   *time.Time
	Metadata       map[string]string
	Hash           string
}

// CanonicalWorkout is the normalized form of a workout session. It carries
// derived aggregates (heart-rate statistics, totals) that plain records do
// not have.
type CanonicalWorkout struct {
	ActivityType    string
	SourceName      string
	SourceVersion   string
	SourceBundleID  string
	Device          string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64
	TotalDistanceKm *float64
	TotalEnergyKcal *float64
	AvgHeartRate    *float64
	MinHeartRate    *float64
	MaxHeartRate    *float64
	Metadata        map[string]string
	Hash            string
}

// Sample is the closed tagged variant carried between the normalizer and the
// batch assembler. Exactly one of Record or Workout is set, according to Kind.
type Sample struct {
	Kind    SampleKind
	Record  *CanonicalRecord
	Workout *CanonicalWorkout
}

// RecordSample wraps a record in the variant.
func RecordSample(r *CanonicalRecord) Sample {
	return Sample{Kind: KindRecord, Record: r}
}

// WorkoutSample wraps a workout in the variant.
func WorkoutSample(w *CanonicalWorkout) Sample {
	return Sample{Kind: KindWorkout, Workout: w}
}
