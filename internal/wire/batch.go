// Package wire defines the payloads shared between the sync agent and the
// ingestion endpoint.
package wire

import (
	"time"

	"github.com/aslobodnik/health-sync/internal/domain"
)

// Record is the transport shape of a canonical record. The server recomputes
// the content hash itself, so none is carried on the wire.
type Record struct {
	Stream         string            `json:"stream"`
	SourceName     string            `json:"source_name"`
	SourceVersion  string            `json:"source_version,omitempty"`
	SourceBundleID string            `json:"source_bundle_id,omitempty"`
	Device         string            `json:"device,omitempty"`
	Unit           string            `json:"unit,omitempty"`
	ValueNumeric   *float64          `json:"value_numeric,omitempty"`
	ValueText      string            `json:"value_text,omitempty"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time"`
	CreationTime   *time.Time        `json:"creation_time,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Workout is the transport shape of a canonical workout.
type Workout struct {
	ActivityType    string            `json:"activity_type"`
	SourceName      string            `json:"source_name"`
	SourceVersion   string            `json:"source_version,omitempty"`
	SourceBundleID  string            `json:"source_bundle_id,omitempty"`
	Device          string            `json:"device,omitempty"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         time.Time         `json:"end_time"`
	DurationSeconds float64           `json:"duration_seconds"`
	TotalDistanceKm *float64          `json:"total_distance_km,omitempty"`
	TotalEnergyKcal *float64          `json:"total_energy_kcal,omitempty"`
	AvgHeartRate    *float64          `json:"avg_heart_rate,omitempty"`
	MinHeartRate    *float64          `json:"min_heart_rate,omitempty"`
	MaxHeartRate    *float64          `json:"max_heart_rate,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// BatchRequest is the body of POST /v1/sync/batches.
type BatchRequest struct {
	BatchID     string    `json:"batch_id"`
	Stream      string    `json:"stream"`
	Records     []Record  `json:"records,omitempty"`
	Workouts    []Workout `json:"workouts,omitempty"`
	Deletions   []string  `json:"deletions,omitempty"`
	DeviceID    string    `json:"device_id"`
	AssembledAt time.Time `json:"assembled_at"`
}

// BatchResponse reports per-batch ingestion counts.
type BatchResponse struct {
	Inserted  int `json:"inserted"`
	Duplicate int `json:"duplicate"`
	Deleted   int `json:"deleted"`
}

// ErrorResponse carries a machine-readable reason code.
type ErrorResponse struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// Reason codes returned by the ingestion endpoint.
const (
	ReasonUnauthorized   = "unauthorized"
	ReasonMalformed      = "malformed"
	ReasonStorageFailure = "storage_failure"
)

// FromBatch converts a domain batch into its transport shape.
func FromBatch(b *domain.SyncBatch) BatchRequest {
	req := BatchRequest{
		BatchID:     b.BatchID,
		Stream:      string(b.Stream),
		Deletions:   b.Deletions,
		DeviceID:    b.DeviceID,
		AssembledAt: b.AssembledAt,
	}
	for i := range b.Records {
		r := &b.Records[i]
		req.Records = append(req.Records, Record{
			Stream:         string(r.Stream),
			SourceName:     r.SourceName,
			SourceVersion:  r.SourceVersion,
			SourceBundleID: r.SourceBundleID,
			Device:         r.Device,
			Unit:           r.Unit,
			ValueNumeric:   r.ValueNumeric,
			ValueText:      r.ValueText,
			StartTime:      r.StartTime,
			EndTime:        r.EndTime,
			CreationTime:   r.CreationTime,
			Metadata:       r.Metadata,
		})
	}
	for i := range b.Workouts {
		w := &b.Workouts[i]
		req.Workouts = append(req.Workouts, Workout{
			ActivityType:    w.ActivityType,
			SourceName:      w.SourceName,
			SourceVersion:   w.SourceVersion,
			SourceBundleID:  w.SourceBundleID,
			Device:          w.Device,
			StartTime:       w.StartTime,
			EndTime:         w.EndTime,
			DurationSeconds: w.DurationSeconds,
			TotalDistanceKm: w.TotalDistanceKm,
			TotalEnergyKcal: w.TotalEnergyKcal,
			AvgHeartRate:    w.AvgHeartRate,
			MinHeartRate:    w.MinHeartRate,
			MaxHeartRate:    w.MaxHeartRate,
			Metadata:        w.Metadata,
		})
	}
	return req
}
