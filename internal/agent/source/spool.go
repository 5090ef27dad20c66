// Package source reads deltas out of the on-device sample spool.
//
// The platform bridge appends every observed sample to the spool; the sync
// engine drains it incrementally. Spool row ids are the physical backing of
// the stream cursor: a fetch returns everything past the anchor, and the
// anchor only moves once the server confirms the data durable.
package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aslobodnik/health-sync/internal/domain"
)

// RawSample is a spool row as written by the platform bridge, before
// normalization. Record and workout fields share the struct; Kind says which
// half is meaningful.
type RawSample struct {
	Kind           domain.SampleKind `json:"kind"`
	SampleID       string            `json:"sample_id"`
	SourceName     string            `json:"source_name"`
	SourceVersion  string            `json:"source_version,omitempty"`
	SourceBundleID string            `json:"source_bundle_id,omitempty"`
	Device         string            `json:"device,omitempty"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time"`
	CreationTime   *time.Time        `json:"creation_time,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// Record fields.
	Unit         string   `json:"unit,omitempty"`
	ValueNumeric *float64 `json:"value_numeric,omitempty"`
	ValueText    string   `json:"value_text,omitempty"`

	// Workout fields, units as reported by the source.
	ActivityType  string   `json:"activity_type,omitempty"`
	Duration      *float64 `json:"duration,omitempty"`
	DurationUnit  string   `json:"duration_unit,omitempty"`
	TotalDistance *float64 `json:"total_distance,omitempty"`
	DistanceUnit  string   `json:"distance_unit,omitempty"`
	TotalEnergy   *float64 `json:"total_energy,omitempty"`
	EnergyUnit    string   `json:"energy_unit,omitempty"`
	AvgHeartRate  *float64 `json:"avg_heart_rate,omitempty"`
	MinHeartRate  *float64 `json:"min_heart_rate,omitempty"`
	MaxHeartRate  *float64 `json:"max_heart_rate,omitempty"`
}

// Spool provides append and tombstone access for the platform bridge.
type Spool struct {
	db *sql.DB
}

// NewSpool prepares the spool table.
func NewSpool(db *sql.DB) (*Spool, error) {
	const schema = `CREATE TABLE IF NOT EXISTS spool_samples (
        id          INTEGER PRIMARY KEY AUTOINCREMENT,
        stream      TEXT NOT NULL,
        sample_id   TEXT NOT NULL,
        deleted     INTEGER NOT NULL DEFAULT 0,
        payload     TEXT NOT NULL,
        observed_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_spool_stream ON spool_samples (stream, id)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create spool table: %w", err)
	}
	return &Spool{db: db}, nil
}

// Append records a freshly observed sample.
func (s *Spool) Append(ctx context.Context, stream domain.Stream, sample RawSample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spool_samples (stream, sample_id, payload, observed_at) VALUES (?, ?, ?, ?)`,
		string(stream), sample.SampleID, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// MarkDeleted records that a sample was removed at the source. The deletion
// travels to the server as a tombstone in the next fetch window.
func (s *Spool) MarkDeleted(ctx context.Context, stream domain.Stream, sampleID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spool_samples (stream, sample_id, deleted, payload, observed_at) VALUES (?, ?, 1, '{}', ?)`,
		string(stream), sampleID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}
