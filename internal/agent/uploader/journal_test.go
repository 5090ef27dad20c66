package uploader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aslobodnik/health-sync/internal/agent/localdb"
	"github.com/aslobodnik/health-sync/internal/wire"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	dir := t.TempDir()
	db, err := localdb.Open(filepath.Join(dir, "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	journal, err := NewJournal(db, filepath.Join(dir, "spool"))
	require.NoError(t, err)
	return journal
}

func addOne(t *testing.T, journal *Journal, entry Entry, payload wire.BatchRequest) Entry {
	t.Helper()
	entries, err := journal.AddGroup(context.Background(), []Entry{entry}, []wire.BatchRequest{payload})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestJournalAddLoadComplete(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	payload := wire.BatchRequest{BatchID: "b1", Stream: "heart-rate", DeviceID: "device-1"}
	entry := addOne(t, journal, Entry{
		GroupID:     "group-1",
		Stream:      "heart-rate",
		BatchID:     "b1",
		CommitToken: "tok",
	}, payload)
	require.NotZero(t, entry.ID)
	require.FileExists(t, entry.PayloadPath)

	loaded, err := journal.Load(entry)
	require.NoError(t, err)
	require.Equal(t, payload, loaded)

	remaining, err := journal.Complete(ctx, entry)
	require.NoError(t, err)
	require.Zero(t, remaining)
	require.NoFileExists(t, entry.PayloadPath)

	pending, err := journal.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestJournalGroupRemainingCounts(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	var entries []Entry
	var payloads []wire.BatchRequest
	for _, id := range []string{"b1", "b2", "b3"} {
		entries = append(entries, Entry{
			GroupID:     "group-1",
			Stream:      "heart-rate",
			BatchID:     id,
			CommitToken: "tok",
		})
		payloads = append(payloads, wire.BatchRequest{BatchID: id})
	}
	entries, err := journal.AddGroup(ctx, entries, payloads)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	remaining, err := journal.Complete(ctx, entries[0])
	require.NoError(t, err)
	require.Equal(t, 2, remaining)

	remaining, err = journal.Complete(ctx, entries[1])
	require.NoError(t, err)
	require.Equal(t, 1, remaining)

	remaining, err = journal.Complete(ctx, entries[2])
	require.NoError(t, err)
	require.Zero(t, remaining, "last completion of the group signals cursor commit")
}

// A group's markers all carry the commit token of the full fetch, so a group
// persisted in part would let recovery commit the cursor past batches that
// were never journalled. An insert failure partway through must leave no
// rows behind.
func TestJournalAddGroupAllOrNothing(t *testing.T) {
	journal := newTestJournal(t)
	ctx := context.Background()

	// The duplicate batch id fails the third insert after two succeeded
	// inside the same transaction.
	entries := []Entry{
		{GroupID: "group-1", Stream: "heart-rate", BatchID: "b1", CommitToken: "tok"},
		{GroupID: "group-1", Stream: "heart-rate", BatchID: "b2", CommitToken: "tok"},
		{GroupID: "group-1", Stream: "heart-rate", BatchID: "b1", CommitToken: "tok"},
	}
	payloads := []wire.BatchRequest{{BatchID: "b1"}, {BatchID: "b2"}, {BatchID: "b1"}}

	_, err := journal.AddGroup(ctx, entries, payloads)
	require.Error(t, err)

	pending, err := journal.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending, "a failed group handoff must not leave partial markers")
}

func TestJournalAddGroupLengthMismatch(t *testing.T) {
	journal := newTestJournal(t)
	_, err := journal.AddGroup(context.Background(),
		[]Entry{{GroupID: "g", Stream: "s", BatchID: "b1"}}, nil)
	require.Error(t, err)
}

func TestJournalPendingSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agent.db")
	spoolDir := filepath.Join(dir, "spool")
	ctx := context.Background()

	db, err := localdb.Open(dbPath)
	require.NoError(t, err)
	journal, err := NewJournal(db, spoolDir)
	require.NoError(t, err)

	payload := wire.BatchRequest{BatchID: "b1", Stream: "workouts"}
	entry := addOne(t, journal, Entry{GroupID: "g", Stream: "workouts", BatchID: "b1", CommitToken: "tok"}, payload)
	require.NoError(t, db.Close())

	// Relaunch: a fresh journal over the same files sees the marker and
	// can reload the payload byte-for-byte.
	db2, err := localdb.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })
	journal2, err := NewJournal(db2, spoolDir)
	require.NoError(t, err)

	pending, err := journal2.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, entry.ID, pending[0].ID)
	require.Equal(t, "tok", pending[0].CommitToken)

	loaded, err := journal2.Load(pending[0])
	require.NoError(t, err)
	require.Equal(t, payload, loaded)
}

func TestJournalLoadMissingPayload(t *testing.T) {
	journal := newTestJournal(t)
	entry := addOne(t, journal, Entry{GroupID: "g", Stream: "s", BatchID: "b1"}, wire.BatchRequest{BatchID: "b1"})

	require.NoError(t, os.Remove(entry.PayloadPath))
	_, err := journal.Load(entry)
	require.Error(t, err)
}
