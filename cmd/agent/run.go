package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aslobodnik/health-sync/internal/agent/notifier"
	"github.com/aslobodnik/health-sync/internal/domain"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent daemon, syncing streams as the platform signals new data",
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

		shutdownCh := make(chan os.Signal, 1)
		signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-shutdownCh
			cancel()
		}()

		go rt.queue.Start(ctx)

		if cfg.MetricsAddress != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
					rt.logger.Printf("metrics server: %v", err)
				}
			}()
		}

		// Resolve uploads interrupted by the previous shutdown before any
		// notification can start a fresh fetch.
		if err := rt.engine.Recover(ctx); err != nil {
			rt.logger.Printf("recover pending uploads: %v", err)
		}

		watch := notifier.New(cfg.TriggerDir(), func(stream domain.Stream) {
			go func() {
				// Errors are already recorded per stream; a failure here
				// must not stop the daemon or other streams.
				_ = rt.engine.Sync(ctx, stream)
			}()
		}, rt.logger)

		rt.logger.Printf("agent running, watching %s", cfg.TriggerDir())
		err = watch.Start(ctx)
		cancel()
		rt.queue.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
