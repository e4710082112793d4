package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tourforge/poi-catalogue/internal/catalog"
)

// ErrDuplicateImport reports that an import with the same
// (geofence_id, input_digest) pair is already recorded. Callers treat it as
// a replay, not a failure: the unique constraint is the idempotency
// authority when concurrent reruns race past the pre-check.
var ErrDuplicateImport = errors.New("import already recorded for geofence and digest")

const uniqueViolationCode = "23505"

// FindImport looks up the provenance record for a (geofence_id, input_digest)
// rerun key. Returns nil when no matching import exists.
func (db *DB) FindImport(ctx context.Context, geofenceID, inputDigest string) (*catalog.OsmIngestionProvenance, error) {
	var p catalog.OsmIngestionProvenance
	err := db.pool.QueryRow(ctx,
		`SELECT id, geofence_id, source_url, input_digest, imported_at,
		        bounds_min_lng, bounds_min_lat, bounds_max_lng, bounds_max_lat,
		        raw_poi_count, filtered_poi_count, created_at
		 FROM osm_ingestion_provenance
		 WHERE geofence_id = $1 AND input_digest = $2`,
		geofenceID, inputDigest,
	).Scan(&p.ID, &p.GeofenceID, &p.SourceURL, &p.InputDigest, &p.ImportedAt,
		&p.Bounds.MinLng, &p.Bounds.MinLat, &p.Bounds.MaxLng, &p.Bounds.MaxLat,
		&p.RawPOICount, &p.FilteredPOICount, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find import for %s: %w", geofenceID, err)
	}
	return &p, nil
}

// PersistImport writes one batch import atomically: the provenance row first,
// then the POI upsert, in a single transaction. A rerun-key conflict rolls
// everything back and returns ErrDuplicateImport; no partial state survives.
func (db *DB) PersistImport(ctx context.Context, prov catalog.OsmIngestionProvenance, pois []catalog.PointOfInterest) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := prov.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO osm_ingestion_provenance
		     (id, geofence_id, source_url, input_digest, imported_at,
		      bounds_min_lng, bounds_min_lat, bounds_max_lng, bounds_max_lat,
		      raw_poi_count, filtered_poi_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, prov.GeofenceID, prov.SourceURL, prov.InputDigest, prov.ImportedAt,
		prov.Bounds.MinLng, prov.Bounds.MinLat, prov.Bounds.MaxLng, prov.Bounds.MaxLat,
		prov.RawPOICount, prov.FilteredPOICount,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateImport
		}
		return fmt.Errorf("failed to insert ingestion provenance: %w", err)
	}

	if err := upsertPOIs(ctx, tx, pois); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}
