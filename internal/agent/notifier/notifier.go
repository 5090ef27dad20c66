// Package notifier turns platform wake-up signals into per-stream sync
// triggers.
//
// The platform bridge touches a file named after the stream inside the
// trigger directory whenever new data may exist. The file carries no payload;
// the fetcher re-derives what is new from the cursor. Trigger files are
// always removed (acknowledged) before the sync runs, so a failed sync can
// never wedge future notifications for the stream.
package notifier

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/aslobodnik/health-sync/internal/domain"
)

// Handler receives the stream named by a trigger. Outcome is independent of
// acknowledgment: the trigger is already acked when Handler runs.
type Handler func(stream domain.Stream)

// Notifier watches the trigger directory.
type Notifier struct {
	dir     string
	handler Handler
	logger  *log.Logger
}

// New constructs a Notifier.
func New(dir string, handler Handler, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[notifier] ", log.LstdFlags)
	}
	return &Notifier{dir: dir, handler: handler, logger: logger}
}

// Start registers the watch and blocks until the context is cancelled.
// Registration is idempotent: the trigger directory is created if missing and
// any triggers left over from a previous process are replayed first, so a
// resumed process recovers delivery without user action.
func (n *Notifier) Start(ctx context.Context) error {
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return fmt.Errorf("create trigger dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(n.dir); err != nil {
		return fmt.Errorf("watch trigger dir: %w", err)
	}

	n.replayExisting()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			n.fire(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			n.logger.Printf("watch error: %v", err)
		}
	}
}

// replayExisting acks and fires triggers that arrived while no process was
// watching.
func (n *Notifier) replayExisting() {
	entries, err := os.ReadDir(n.dir)
	if err != nil {
		n.logger.Printf("scan trigger dir: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		n.fire(filepath.Join(n.dir, entry.Name()))
	}
}

// fire acks the trigger file, then invokes the handler. Removal happens
// first: the platform only needs to know the signal was seen, not that the
// sync worked.
func (n *Notifier) fire(path string) {
	stream := domain.Stream(filepath.Base(path))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		n.logger.Printf("ack trigger %s: %v", path, err)
	}
	if n.handler != nil {
		n.handler(stream)
	}
}
