package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tourforge/poi-catalogue/internal/catalog"
)

// PersistEnrichment writes one successful enrichment attempt atomically: the
// provenance row plus the POI upsert in a single transaction. Zero-POI
// fetches still get their provenance row; the attempt happened and is
// part of the audit trail.
func (db *DB) PersistEnrichment(ctx context.Context, prov catalog.EnrichmentProvenance, pois []catalog.PointOfInterest) error {
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
		`INSERT INTO overpass_enrichment_provenance
		     (id, source_url, imported_at,
		      bounds_min_lng, bounds_min_lat, bounds_max_lng, bounds_max_lat)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, prov.SourceURL, prov.ImportedAt,
		prov.Bounds.MinLng, prov.Bounds.MinLat, prov.Bounds.MaxLng, prov.Bounds.MaxLat,
	)
	if err != nil {
		return fmt.Errorf("failed to insert enrichment provenance: %w", err)
	}

	if err := upsertPOIs(ctx, tx, pois); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit enrichment: %w", err)
	}
	return nil
}

// EnrichmentPage is one page of the newest-first provenance listing.
// NextBefore is the exclusive imported_at cursor for the following page;
// nil means no older records remain.
type EnrichmentPage struct {
	Records    []catalog.EnrichmentProvenance
	NextBefore *time.Time
}

const selectEnrichmentColumns = `SELECT id, source_url, imported_at,
        bounds_min_lng, bounds_min_lat, bounds_max_lng, bounds_max_lat, created_at
 FROM overpass_enrichment_provenance`

// ListRecentEnrichment returns up to limit provenance records ordered
// newest-first, older than the optional exclusive before cursor.
//
// The cursor is a bare imported_at timestamp, so a page is never split
// inside a group of rows sharing one imported_at value: the whole group is
// returned together (the page may then exceed limit). Otherwise rows equal
// to the cursor would be skipped by the next request.
func (db *DB) ListRecentEnrichment(ctx context.Context, limit int, before *time.Time) (*EnrichmentPage, error) {
	if limit <= 0 {
		return &EnrichmentPage{}, nil
	}

	query := selectEnrichmentColumns
	args := []any{}
	if before != nil {
		query += ` WHERE imported_at < $1`
		args = append(args, *before)
	}
	query += fmt.Sprintf(` ORDER BY imported_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrichment provenance: %w", err)
	}
	records, err := scanEnrichmentRows(rows)
	if err != nil {
		return nil, err
	}

	if len(records) <= limit {
		return &EnrichmentPage{Records: records}, nil
	}

	boundary := records[limit-1].ImportedAt
	boundaryIsSplit := records[limit].ImportedAt.Equal(boundary)

	if !boundaryIsSplit {
		records = records[:limit]
		next := records[len(records)-1].ImportedAt
		return &EnrichmentPage{Records: records, NextBefore: &next}, nil
	}

	// The page boundary falls inside a shared imported_at group. Keep the
	// strictly-newer rows, then pull the whole group in one extra query.
	var page []catalog.EnrichmentProvenance
	for _, r := range records {
		if !r.ImportedAt.After(boundary) {
			break
		}
		page = append(page, r)
	}

	groupQuery := selectEnrichmentColumns + ` WHERE imported_at = $1`
	groupArgs := []any{boundary}
	if before != nil {
		groupQuery += ` AND imported_at < $2`
		groupArgs = append(groupArgs, *before)
	}
	groupQuery += ` ORDER BY id DESC`

	groupRows, err := db.pool.Query(ctx, groupQuery, groupArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrichment provenance group: %w", err)
	}
	group, err := scanEnrichmentRows(groupRows)
	if err != nil {
		return nil, err
	}
	page = append(page, group...)

	olderQuery := `SELECT EXISTS (SELECT 1 FROM overpass_enrichment_provenance WHERE imported_at < $1`
	olderArgs := []any{boundary}
	if before != nil {
		olderQuery += ` AND imported_at < $2`
		olderArgs = append(olderArgs, *before)
	}
	olderQuery += `)`

	var hasOlder bool
	if err := db.pool.QueryRow(ctx, olderQuery, olderArgs...).Scan(&hasOlder); err != nil {
		return nil, fmt.Errorf("failed to probe older enrichment provenance: %w", err)
	}

	result := &EnrichmentPage{Records: page}
	if hasOlder {
		result.NextBefore = &boundary
	}
	return result, nil
}

func scanEnrichmentRows(rows pgx.Rows) ([]catalog.EnrichmentProvenance, error) {
	defer rows.Close()

	var records []catalog.EnrichmentProvenance
	for rows.Next() {
		var p catalog.EnrichmentProvenance
		if err := rows.Scan(&p.ID, &p.SourceURL, &p.ImportedAt,
			&p.Bounds.MinLng, &p.Bounds.MinLat, &p.Bounds.MaxLng, &p.Bounds.MaxLat,
			&p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan enrichment provenance: %w", err)
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read enrichment provenance: %w", err)
	}
	return records, nil
}

// CountEnrichmentProvenance returns the number of stored enrichment records.
func (db *DB) CountEnrichmentProvenance(ctx context.Context) (int64, error) {
	var count int64
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM overpass_enrichment_provenance`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count enrichment provenance: %w", err)
	}
	return count, nil
}
