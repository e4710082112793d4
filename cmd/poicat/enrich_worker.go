package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tourforge/poi-catalogue/internal/config"
	"github.com/tourforge/poi-catalogue/internal/db"
	"github.com/tourforge/poi-catalogue/internal/enrich"
	"github.com/tourforge/poi-catalogue/internal/metrics"
	"github.com/tourforge/poi-catalogue/internal/overpass"
)

var enrichWorkerCmd = &cobra.Command{
	Use:   "enrich-worker",
	Short: "Run the scheduled Overpass enrichment worker",
	Long:  "Run the enrichment worker daemon: every interval it walks the geofence registry, fetches POIs from the Overpass API under the configured request quota and circuit breaker, and persists results with provenance. Stops on SIGINT or SIGTERM.",
	RunE:  runEnrichWorker,
}

var (
	workerConfigPath    string
	workerDatabaseURL   string
	workerMetricsListen string
)

func init() {
	enrichWorkerCmd.Flags().StringVar(&workerConfigPath, "config", "", "Path to the worker configuration file (required)")
	enrichWorkerCmd.Flags().StringVar(&workerDatabaseURL, "database-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL)")
	enrichWorkerCmd.Flags().StringVar(&workerMetricsListen, "metrics-listen", ":9091", "Listen address for the worker /metrics endpoint")

	enrichWorkerCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(enrichWorkerCmd)
}

func runEnrichWorker(cmd *cobra.Command, args []string) error {
	log := newDaemonLogger()

	cfg, err := config.Load(workerConfigPath)
	if err != nil {
		return err
	}
	jobs, err := cfg.EnabledJobs()
	if err != nil {
		return err
	}

	dbURL, err := resolveDatabaseURL(workerDatabaseURL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, dbURL)
	if err != nil {
		return err
	}
	defer database.Close()

	source, err := overpass.NewClient(cfg.OverpassOptions())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	worker := enrich.NewWorker(cfg.EnrichConfig(), enrich.Params{
		Source:  source,
		Store:   database,
		Metrics: metrics.New(registry),
		Logger:  log,
	})
	runtime := enrich.NewRuntime(worker, jobs, cfg.RuntimeConfig(), log)

	metricsServer := startMetricsServer(workerMetricsListen, registry, log)
	defer shutdownMetricsServer(metricsServer, log)

	if err := runtime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startMetricsServer serves the worker's registry on its own listener. The
// worker keeps running if the listener fails; scraping is not load-bearing.
func startMetricsServer(addr string, registry *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Info("metrics listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", "error", err)
		}
	}()
	return srv
}

func shutdownMetricsServer(srv *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("metrics listener shutdown failed", "error", err)
	}
}
