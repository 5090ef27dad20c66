package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aslobodnik/health-sync/internal/config"
	"github.com/aslobodnik/health-sync/internal/server/api"
	"github.com/aslobodnik/health-sync/internal/server/auth"
	"github.com/aslobodnik/health-sync/internal/server/ingest"
	"github.com/aslobodnik/health-sync/internal/server/postgres"
	"github.com/aslobodnik/health-sync/internal/server/refresh"
	"github.com/aslobodnik/health-sync/internal/server/transport"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewRepository(pool)
	service := ingest.NewService(repo, cfg.MaxBatchRecords)

	var refresher refresh.Refresher = refresh.NoopRefresher{}
	if cfg.RefreshURL != "" {
		refresher = refresh.NewHTTPRefresher(cfg.RefreshURL, cfg.RefreshToken, cfg.RefreshTimeout)
	}
	publisher := refresh.NewKafkaPublisher(cfg.KafkaBrokers)
	defer publisher.Close()
	trigger := refresh.NewTrigger(refresher, publisher, cfg.RefreshTimeout, nil)

	handler, err := api.NewHandler(service, repo, trigger)
	if err != nil {
		log.Fatalf("failed to build handler: %v", err)
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	})

	server := transport.NewServer(transport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("healthsync server listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
