// Package cursor persists per-stream resumption state on the device.
package cursor

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aslobodnik/health-sync/internal/domain"
)

// Cursor marks how far a stream has been fetched from the local spool.
// Anchor is the last spool row confirmed durably ingested server-side.
type Cursor struct {
	Anchor    int64
	FetchedAt time.Time
}

// EncodeToken serialises the cursor to its opaque string form.
func EncodeToken(c *Cursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%s|%d", c.FetchedAt.UTC().Format(time.RFC3339Nano), c.Anchor)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeToken parses an opaque cursor token.
func DecodeToken(token string) (*Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, err
	}
	anchor, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, err
	}
	return &Cursor{Anchor: anchor, FetchedAt: ts}, nil
}

// State is what the store keeps per stream: the opaque token plus the
// human-meaningful last-successful-sync timestamp.
type State struct {
	Token    string
	SyncedAt time.Time
}

// Store persists cursor state in the agent's SQLite database. A cursor row is
// only ever written after the corresponding batches are confirmed ingested.
type Store struct {
	db *sql.DB
}

// NewStore prepares the cursors table and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	const schema = `CREATE TABLE IF NOT EXISTS cursors (
        stream    TEXT PRIMARY KEY,
        token     TEXT NOT NULL,
        synced_at TEXT NOT NULL
    )`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create cursors table: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the stored state for a stream, or nil if the stream has never
// completed a sync.
func (s *Store) Get(stream domain.Stream) (*State, error) {
	row := s.db.QueryRow(`SELECT token, synced_at FROM cursors WHERE stream = ?`, string(stream))

	var state State
	var syncedAt string
	if err := row.Scan(&state.Token, &syncedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, syncedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt synced_at for %s: %w", stream, err)
	}
	state.SyncedAt = ts
	return &state, nil
}

// Set writes the stream's state. The upsert is a single statement, so a
// process kill observes either the old row or the new one, never a blend.
func (s *Store) Set(stream domain.Stream, state State) error {
	const stmt = `INSERT INTO cursors (stream, token, synced_at) VALUES (?, ?, ?)
        ON CONFLICT (stream) DO UPDATE SET token = excluded.token, synced_at = excluded.synced_at`
	_, err := s.db.Exec(stmt, string(stream), state.Token, state.SyncedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Clear removes the stream's cursor. The next fetch falls back to the bounded
// backfill window instead of full history.
func (s *Store) Clear(stream domain.Stream) error {
	_, err := s.db.Exec(`DELETE FROM cursors WHERE stream = ?`, string(stream))
	return err
}
