// Package postgres provides the durable store behind the ingestion service.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aslobodnik/health-sync/internal/domain"
	"github.com/aslobodnik/health-sync/internal/server/ingest"
)

// Repository writes batches to Postgres. A batch is one transaction: either
// every row lands (inserted or skipped as a duplicate) or none do.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertRecord = `INSERT INTO health_records
    (stream, source_name, source_version, source_bundle_id, device, unit,
     value_numeric, value_text, start_time, end_time, creation_time, metadata,
     record_hash, device_id)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
    ON CONFLICT (record_hash) DO NOTHING`

const insertWorkout = `INSERT INTO workouts
    (workout_type, source_name, source_version, source_bundle_id, device,
     start_time, end_time, duration_seconds, total_distance_km, total_energy_kcal,
     avg_heart_rate, min_heart_rate, max_heart_rate, metadata, workout_hash, device_id)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
    ON CONFLICT (workout_hash) DO NOTHING`

const insertTombstone = `INSERT INTO deletion_tombstones (stream, sample_id, device_id)
    VALUES ($1,$2,$3)
    ON CONFLICT (stream, sample_id) DO NOTHING`

// Write persists the batch. First write wins on a hash collision; later
// writes count as duplicates, never updates.
func (r *Repository) Write(ctx context.Context, batch *domain.SyncBatch) (ingest.Result, error) {
	var result ingest.Result

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return result, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range batch.Records {
		rec := &batch.Records[i]
		meta, err := encodeMetadata(rec.Metadata)
		if err != nil {
			return ingest.Result{}, err
		}
		tag, err := tx.Exec(ctx, insertRecord,
			string(rec.Stream),
			rec.SourceName,
			nullIfEmpty(rec.SourceVersion),
			nullIfEmpty(rec.SourceBundleID),
			nullIfEmpty(rec.Device),
			nullIfEmpty(rec.Unit),
			rec.ValueNumeric,
			nullIfEmpty(rec.ValueText),
			rec.StartTime,
			rec.EndTime,
			rec.CreationTime,
			meta,
			rec.Hash,
			nullIfEmpty(batch.DeviceID),
		)
		if err != nil {
			return ingest.Result{}, fmt.Errorf("insert record: %w", err)
		}
		if tag.RowsAffected() == 1 {
			result.Inserted++
		} else {
			result.Duplicate++
		}
	}

	for i := range batch.Workouts {
		w := &batch.Workouts[i]
		meta, err := encodeMetadata(w.Metadata)
		if err != nil {
			return ingest.Result{}, err
		}
		tag, err := tx.Exec(ctx, insertWorkout,
			w.ActivityType,
			w.SourceName,
			nullIfEmpty(w.SourceVersion),
			nullIfEmpty(w.SourceBundleID),
			nullIfEmpty(w.Device),
			w.StartTime,
			w.EndTime,
			w.DurationSeconds,
			w.TotalDistanceKm,
			w.TotalEnergyKcal,
			w.AvgHeartRate,
			w.MinHeartRate,
			w.MaxHeartRate,
			meta,
			w.Hash,
			nullIfEmpty(batch.DeviceID),
		)
		if err != nil {
			return ingest.Result{}, fmt.Errorf("insert workout: %w", err)
		}
		if tag.RowsAffected() == 1 {
			result.Inserted++
		} else {
			result.Duplicate++
		}
	}

	for _, sampleID := range batch.Deletions {
		tag, err := tx.Exec(ctx, insertTombstone, string(batch.Stream), sampleID, nullIfEmpty(batch.DeviceID))
		if err != nil {
			return ingest.Result{}, fmt.Errorf("insert tombstone: %w", err)
		}
		if tag.RowsAffected() == 1 {
			result.Deleted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ingest.Result{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// CountRecords reports stored record rows, optionally filtered by stream.
// Used by the status surface and tests.
func (r *Repository) CountRecords(ctx context.Context, stream domain.Stream) (int64, error) {
	query := `SELECT COUNT(*) FROM health_records`
	args := []interface{}{}
	if stream != "" {
		query += ` WHERE stream = $1`
		args = append(args, string(stream))
	}
	var count int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func encodeMetadata(meta map[string]string) (interface{}, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return body, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
