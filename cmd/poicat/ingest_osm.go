package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"

	"github.com/tourforge/poi-catalogue/internal/db"
	"github.com/tourforge/poi-catalogue/internal/geo"
	"github.com/tourforge/poi-catalogue/internal/ingest"
	"github.com/tourforge/poi-catalogue/internal/metrics"
)

// ingestTimeout bounds one whole import run, parse and persist included.
const ingestTimeout = 10 * time.Minute

var ingestOsmCmd = &cobra.Command{
	Use:   "ingest-osm",
	Short: "Import POIs from an OpenStreetMap PBF extract",
	Long:  "Parse an offline .osm.pbf extract, keep the POIs inside the geofence bounding box, and persist them with a provenance record. Rerunning over byte-identical extract bytes is detected and skipped.",
	RunE:  runIngestOsm,
}

var (
	ingestPBFPath     string
	ingestSourceURL   string
	ingestGeofenceID  string
	ingestBoundsSpec  string
	ingestDatabaseURL string
	ingestPushURL     string
)

func init() {
	ingestOsmCmd.Flags().StringVar(&ingestPBFPath, "osm-pbf", "", "Path to the .osm.pbf extract (required)")
	ingestOsmCmd.Flags().StringVar(&ingestSourceURL, "source-url", "", "URL the extract was downloaded from (required)")
	ingestOsmCmd.Flags().StringVar(&ingestGeofenceID, "geofence-id", "", "Geofence the import belongs to (required)")
	ingestOsmCmd.Flags().StringVar(&ingestBoundsSpec, "geofence-bounds", "", "Bounding box as min_lng,min_lat,max_lng,max_lat (required)")
	ingestOsmCmd.Flags().StringVar(&ingestDatabaseURL, "database-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL)")
	ingestOsmCmd.Flags().StringVar(&ingestPushURL, "metrics-push-url", "", "Pushgateway base URL for run counters (optional)")

	ingestOsmCmd.MarkFlagRequired("osm-pbf")
	ingestOsmCmd.MarkFlagRequired("source-url")
	ingestOsmCmd.MarkFlagRequired("geofence-id")
	ingestOsmCmd.MarkFlagRequired("geofence-bounds")

	rootCmd.AddCommand(ingestOsmCmd)
}

func runIngestOsm(cmd *cobra.Command, args []string) error {
	bounds, err := geo.ParseBounds(ingestBoundsSpec)
	if err != nil {
		return fmt.Errorf("invalid --geofence-bounds: %w", err)
	}

	dbURL, err := resolveDatabaseURL(ingestDatabaseURL)
	if err != nil {
		return err
	}

	log := newCLILogger()

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	database, err := db.Connect(ctx, dbURL)
	if err != nil {
		return err
	}
	defer database.Close()

	registry := prometheus.NewRegistry()
	command := ingest.NewCommand(ingest.Params{
		Store:   database,
		Metrics: metrics.New(registry),
		Logger:  log,
	})

	report, err := command.Run(ctx, ingest.Request{
		PBFPath:    ingestPBFPath,
		SourceURL:  ingestSourceURL,
		GeofenceID: ingestGeofenceID,
		Bounds:     bounds,
	})
	if err != nil {
		return err
	}

	pushRunCounters(registry, log)

	for _, line := range report.Lines() {
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

// pushRunCounters ships the run counters to the configured Pushgateway. A
// push failure never fails the command; the import already happened.
func pushRunCounters(registry *prometheus.Registry, log *slog.Logger) {
	if ingestPushURL == "" {
		return
	}
	pusher := push.New(ingestPushURL, "poicat_ingest_osm").
		Gatherer(registry).
		Grouping("geofence", ingestGeofenceID)
	if err := pusher.Add(); err != nil {
		log.Warn("failed to push run counters", "error", err)
	}
}
