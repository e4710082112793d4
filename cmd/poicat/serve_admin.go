package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tourforge/poi-catalogue/internal/db"
	"github.com/tourforge/poi-catalogue/internal/server"
)

var serveAdminCmd = &cobra.Command{
	Use:   "serve-admin",
	Short: "Start the admin read API",
	Long:  "Start the HTTP server that exposes enrichment provenance reporting, a health probe, and prometheus metrics.",
	RunE:  runServeAdmin,
}

var (
	adminListenAddr  string
	adminDatabaseURL string
)

func init() {
	serveAdminCmd.Flags().StringVar(&adminListenAddr, "listen", ":8091", "Listen address for the admin API")
	serveAdminCmd.Flags().StringVar(&adminDatabaseURL, "database-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL)")

	rootCmd.AddCommand(serveAdminCmd)
}

func runServeAdmin(cmd *cobra.Command, args []string) error {
	dbURL, err := resolveDatabaseURL(adminDatabaseURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, dbURL)
	if err != nil {
		return err
	}
	defer database.Close()

	srv, err := server.New(server.Config{
		ListenAddr: adminListenAddr,
		Store:      database,
		Logger:     newDaemonLogger(),
	})
	if err != nil {
		return err
	}

	return srv.Start()
}
