package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aslobodnik/health-sync/internal/agent/cursor"
	"github.com/aslobodnik/health-sync/internal/domain"
)

// DefaultBackfillWindow bounds the very first fetch for a stream. Once a
// cursor exists, the anchor alone determines the resumption point.
const DefaultBackfillWindow = 30 * 24 * time.Hour

// Delta is the result of one incremental fetch: ordered added samples,
// tombstoned identifiers, and the cursor that becomes current once the data
// is confirmed ingested.
type Delta struct {
	Samples   []RawSample
	Deletions []string
	Next      cursor.Cursor
}

// DeltaSource is the capability the engine fetches through; tests substitute
// a fake.
type DeltaSource interface {
	Fetch(ctx context.Context, stream domain.Stream, cur *cursor.Cursor) (*Delta, error)
}

// Fetcher reads deltas from the spool.
type Fetcher struct {
	db       *sql.DB
	backfill time.Duration
	now      func() time.Time
}

// NewFetcher constructs a Fetcher. A non-positive backfill falls back to
// DefaultBackfillWindow.
func NewFetcher(db *sql.DB, backfill time.Duration) *Fetcher {
	if backfill <= 0 {
		backfill = DefaultBackfillWindow
	}
	return &Fetcher{db: db, backfill: backfill, now: time.Now}
}

// Fetch returns everything added or deleted for the stream since the cursor.
// On any error the caller keeps its old cursor; the same window is re-read on
// the next trigger.
func (f *Fetcher) Fetch(ctx context.Context, stream domain.Stream, cur *cursor.Cursor) (*Delta, error) {
	var (
		query string
		args  []interface{}
	)
	preWindowMax := int64(0)
	if cur == nil {
		// First run: bounded window, never full history. The anchor starts
		// at the stream's current high-water id so rows the window excludes
		// stay excluded on every later fetch, not just this one.
		row := f.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(id), 0) FROM spool_samples WHERE stream = ?`, string(stream))
		if err := row.Scan(&preWindowMax); err != nil {
			return nil, fmt.Errorf("query spool high water: %w", err)
		}
		horizon := f.now().Add(-f.backfill).UTC().Format(time.RFC3339Nano)
		query = `SELECT id, sample_id, deleted, payload FROM spool_samples
            WHERE stream = ? AND observed_at >= ? ORDER BY id`
		args = []interface{}{string(stream), horizon}
	} else {
		query = `SELECT id, sample_id, deleted, payload FROM spool_samples
            WHERE stream = ? AND id > ? ORDER BY id`
		args = []interface{}{string(stream), cur.Anchor}
	}

	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spool: %w", err)
	}
	defer rows.Close()

	delta := &Delta{}
	anchor := preWindowMax
	if cur != nil {
		anchor = cur.Anchor
	}

	for rows.Next() {
		var (
			id       int64
			sampleID string
			deleted  int
			payload  string
		)
		if err := rows.Scan(&id, &sampleID, &deleted, &payload); err != nil {
			return nil, err
		}
		if id > anchor {
			anchor = id
		}
		if deleted != 0 {
			delta.Deletions = append(delta.Deletions, sampleID)
			continue
		}
		var sample RawSample
		if err := json.Unmarshal([]byte(payload), &sample); err != nil {
			return nil, fmt.Errorf("decode spool row %d: %w", id, err)
		}
		if sample.SampleID == "" {
			sample.SampleID = sampleID
		}
		delta.Samples = append(delta.Samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	delta.Next = cursor.Cursor{Anchor: anchor, FetchedAt: f.now().UTC()}
	return delta, nil
}
