package uploader

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aslobodnik/health-sync/internal/wire"
)

// Entry is one deferred upload awaiting confirmation. The row is written
// before the batch is handed to the queue and removed only after the server
// acknowledges it, so a relaunch can re-issue anything left pending.
//
// CommitToken carries the cursor value to persist once every entry of the
// group (one group per fetch) has drained. Keeping it here means cursor
// commit survives a process suspension between handoff and completion.
type Entry struct {
	ID          int64
	GroupID     string
	Stream      string
	BatchID     string
	PayloadPath string
	CommitToken string
	EnqueuedAt  time.Time
}

// Journal is the durable pending-upload marker store.
type Journal struct {
	db       *sql.DB
	spoolDir string
}

// NewJournal prepares the journal table and payload spool directory.
func NewJournal(db *sql.DB, spoolDir string) (*Journal, error) {
	const schema = `CREATE TABLE IF NOT EXISTS pending_uploads (
        id           INTEGER PRIMARY KEY AUTOINCREMENT,
        group_id     TEXT NOT NULL,
        stream       TEXT NOT NULL,
        batch_id     TEXT NOT NULL UNIQUE,
        payload_path TEXT NOT NULL,
        commit_token TEXT NOT NULL,
        enqueued_at  TEXT NOT NULL
    )`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create pending_uploads table: %w", err)
	}
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Journal{db: db, spoolDir: spoolDir}, nil
}

// AddGroup spools every payload to disk, then records all pending markers of
// the group in one transaction. The markers carry the cursor token of the
// whole fetch, so a group must never be durable in part: a crash mid-handoff
// would otherwise leave one row whose token claims batches that were never
// journalled, and recovery would commit past them. Payload files are written
// and synced before the rows exist, so a crash leaves at worst orphan files,
// never dangling rows.
func (j *Journal) AddGroup(ctx context.Context, entries []Entry, payloads []wire.BatchRequest) ([]Entry, error) {
	if len(entries) != len(payloads) {
		return nil, fmt.Errorf("journal group: %d entries for %d payloads", len(entries), len(payloads))
	}

	now := time.Now().UTC()
	for i := range entries {
		body, err := json.Marshal(payloads[i])
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		path := filepath.Join(j.spoolDir, entries[i].BatchID+".json")
		if err := writeFileSync(path, body); err != nil {
			return nil, err
		}
		entries[i].PayloadPath = path
		entries[i].EnqueuedAt = now
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for i := range entries {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pending_uploads (group_id, stream, batch_id, payload_path, commit_token, enqueued_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			entries[i].GroupID, entries[i].Stream, entries[i].BatchID, entries[i].PayloadPath,
			entries[i].CommitToken, entries[i].EnqueuedAt.Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		if entries[i].ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Load reads the spooled payload back for upload.
func (j *Journal) Load(entry Entry) (wire.BatchRequest, error) {
	body, err := os.ReadFile(entry.PayloadPath)
	if err != nil {
		return wire.BatchRequest{}, fmt.Errorf("read spooled payload: %w", err)
	}
	var payload wire.BatchRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return wire.BatchRequest{}, fmt.Errorf("decode spooled payload: %w", err)
	}
	return payload, nil
}

// Complete removes the marker and its payload file after confirmed delivery.
// It reports how many entries of the same group are still pending.
func (j *Journal) Complete(ctx context.Context, entry Entry) (remaining int, err error) {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM pending_uploads WHERE id = ?`, entry.ID); err != nil {
		return 0, err
	}
	_ = os.Remove(entry.PayloadPath)

	row := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_uploads WHERE group_id = ?`, entry.GroupID)
	if err := row.Scan(&remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}

// Pending lists all unconfirmed uploads in enqueue order, for relaunch
// recovery.
func (j *Journal) Pending(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, group_id, stream, batch_id, payload_path, commit_token, enqueued_at
         FROM pending_uploads ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var enqueuedAt string
		if err := rows.Scan(&entry.ID, &entry.GroupID, &entry.Stream, &entry.BatchID,
			&entry.PayloadPath, &entry.CommitToken, &enqueuedAt); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			entry.EnqueuedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func writeFileSync(path string, body []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
