// Package main provides the poicat command line entry point: the batch
// OpenStreetMap importer, the scheduled enrichment worker, and the admin
// read API over the resulting catalogue.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "poicat",
	Short: "POI catalogue ingestion tools",
	Long:  "poicat feeds the tour catalogue with points of interest: one-shot imports of offline OpenStreetMap extracts, a scheduled Overpass API enrichment worker, and an admin API over the recorded provenance.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newCLILogger keeps one-shot command logs on stderr so stdout stays
// reserved for the command's report.
func newCLILogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// newDaemonLogger emits JSON for log collectors.
func newDaemonLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// resolveDatabaseURL prefers the flag value and falls back to the
// DATABASE_URL environment variable.
func resolveDatabaseURL(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("database URL is required: pass --database-url or set DATABASE_URL")
}
