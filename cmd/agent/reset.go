package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aslobodnik/health-sync/internal/domain"
)

var resetCmd = &cobra.Command{
	Use:   "reset <stream>",
	Short: "Clear the cursor for a stream so the next sync starts from the backfill window",
	Args:  cobra.ExactArgs(1),
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

		stream := domain.Stream(args[0])
		if err := rt.engine.Reset(stream); err != nil {
			return fmt.Errorf("reset %s: %w", stream, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: cursor cleared\n", stream)
		return nil
	},
}
