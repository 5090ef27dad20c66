package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aslobodnik/health-sync/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync time and error for each configured stream",
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

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STREAM\tLAST SYNC\tLAST ERROR")
		for _, name := range cfg.Streams {
			status, err := rt.engine.StreamStatus(domain.Stream(name))
			if err != nil {
				return err
			}
			last := "never"
			if !status.LastSyncAt.IsZero() {
				last = status.LastSyncAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, last, status.LastError)
		}
		return w.Flush()
	},
}
