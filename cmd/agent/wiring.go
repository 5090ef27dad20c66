package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/aslobodnik/health-sync/internal/agent/batch"
	"github.com/aslobodnik/health-sync/internal/agent/config"
	"github.com/aslobodnik/health-sync/internal/agent/cursor"
	"github.com/aslobodnik/health-sync/internal/agent/engine"
	"github.com/aslobodnik/health-sync/internal/agent/localdb"
	"github.com/aslobodnik/health-sync/internal/agent/normalize"
	"github.com/aslobodnik/health-sync/internal/agent/source"
	"github.com/aslobodnik/health-sync/internal/agent/uploader"
)

// agentRuntime bundles everything a subcommand needs.
type agentRuntime struct {
	cfg    config.Config
	db     *sql.DB
	engine *engine.Engine
	queue  *uploader.Queue
	logger *log.Logger
}

func buildRuntime(cfg config.Config) (*agentRuntime, error) {
	logger := newLogger(cfg)

	db, err := localdb.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	cursors, err := cursor.NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := source.NewSpool(db); err != nil {
		db.Close()
		return nil, err
	}
	journal, err := uploader.NewJournal(db, cfg.SpoolDir())
	if err != nil {
		db.Close()
		return nil, err
	}

	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID, err = ensureDeviceID(db)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	client := uploader.NewClient(cfg.ServerURL, cfg.Token, cfg.UploadTimeout)
	queue := uploader.NewQueue(client, 64, logger)

	eng := engine.New(engine.Config{
		Cursors:    cursors,
		Source:     source.NewFetcher(db, cfg.BackfillWindow),
		Normalizer: normalize.New(normalize.Options{CanonicalSources: cfg.CanonicalSources}),
		Assembler:  batch.NewAssembler(cfg.BatchSize, deviceID),
		Queue:      queue,
		Journal:    journal,
		Completer:  client,
		DeviceID:   deviceID,
		Deferred:   cfg.Deferred,
		Logger:     logger,
	})

	return &agentRuntime{
		cfg:    cfg,
		db:     db,
		engine: eng,
		queue:  queue,
		logger: logger,
	}, nil
}

func (rt *agentRuntime) Close() {
	if rt.db != nil {
		rt.db.Close()
	}
}

// ensureDeviceID assigns this installation a stable identifier on first run.
func ensureDeviceID(db *sql.DB) (string, error) {
	const schema = `CREATE TABLE IF NOT EXISTS agent_meta (
        key   TEXT PRIMARY KEY,
        value TEXT NOT NULL
    )`
	if _, err := db.Exec(schema); err != nil {
		return "", fmt.Errorf("create meta table: %w", err)
	}

	var id string
	err := db.QueryRow(`SELECT value FROM agent_meta WHERE key = 'device_id'`).Scan(&id)
	switch {
	case err == nil && id != "":
		return id, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("read device id: %w", err)
	}

	id = uuid.NewString()
	if _, err := db.Exec(`INSERT INTO agent_meta (key, value) VALUES ('device_id', ?)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value`, id); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	return id, nil
}
