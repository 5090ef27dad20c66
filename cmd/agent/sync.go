package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aslobodnik/health-sync/internal/domain"
)

var syncCmd = &cobra.Command{
	Use:   "sync [stream...]",
	Short: "Run one sync cycle for the given streams (all configured streams by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go rt.queue.Start(ctx)

		if err := rt.engine.Recover(ctx); err != nil {
			return fmt.Errorf("recover pending uploads: %w", err)
		}

		streams := args
		if len(streams) == 0 {
			streams = cfg.Streams
		}

		var failed int
		for _, name := range streams {
			stream := domain.Stream(name)
			if err := rt.engine.Sync(ctx, stream); err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", stream, err)
				continue
			}
			status, err := rt.engine.StreamStatus(stream)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: synced at %s\n", stream, status.LastSyncAt.Format("2006-01-02 15:04:05"))
		}

		cancel()
		rt.queue.Wait()

		if failed > 0 {
			return fmt.Errorf("%d of %d streams failed", failed, len(streams))
		}
		return nil
	},
}
