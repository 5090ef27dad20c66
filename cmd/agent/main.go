// Command agent runs the device-side sync agent: it drains the local sample
// spool into the ingestion service, resuming from per-stream cursors.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aslobodnik/health-sync/internal/agent/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Health sample sync agent",
	Long: `The sync agent moves health samples from the on-device spool to the
ingestion service. It fetches incrementally from per-stream cursors, batches
and uploads with idempotent server-side deduplication, and only advances a
cursor once the server has confirmed the data durable.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to agent config file")
	rootCmd.AddCommand(runCmd, syncCmd, resetCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

func newLogger(cfg config.Config) *log.Logger {
	out := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return log.New(out, "[agent] ", log.LstdFlags)
}
