package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tourforge/poi-catalogue/internal/catalog"
)

// upsertPOIsSQL upserts one batch of POIs in a single statement. Two entries
// with the same (element_type, element_id) in one batch make Postgres reject
// the whole statement ("cannot affect row a second time"), which is the
// wanted behaviour: duplicates in a batch indicate a parser bug, not data.
const upsertPOIsSQL = `
INSERT INTO pois (element_type, element_id, lng, lat, tags, updated_at)
SELECT
    source.element_type,
    source.element_id,
    source.lng,
    source.lat,
    source.tags,
    NOW()
FROM unnest(
    $1::text[],
    $2::bigint[],
    $3::double precision[],
    $4::double precision[],
    $5::jsonb[]
) AS source(element_type, element_id, lng, lat, tags)
ON CONFLICT (element_type, element_id)
DO UPDATE SET
    lng = EXCLUDED.lng,
    lat = EXCLUDED.lat,
    tags = EXCLUDED.tags,
    updated_at = NOW()`

// poiBatch holds the column arrays bound to the upsert statement.
type poiBatch struct {
	elementTypes []string
	elementIDs   []int64
	longitudes   []float64
	latitudes    []float64
	tags         []string
}

func toPOIBatch(pois []catalog.PointOfInterest) (*poiBatch, error) {
	if len(pois) == 0 {
		return nil, nil
	}

	batch := &poiBatch{
		elementTypes: make([]string, 0, len(pois)),
		elementIDs:   make([]int64, 0, len(pois)),
		longitudes:   make([]float64, 0, len(pois)),
		latitudes:    make([]float64, 0, len(pois)),
		tags:         make([]string, 0, len(pois)),
	}
	for _, poi := range pois {
		tagsJSON, err := json.Marshal(poi.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags for %s:%d: %w", poi.ElementType, poi.ElementID, err)
		}
		batch.elementTypes = append(batch.elementTypes, poi.ElementType)
		batch.elementIDs = append(batch.elementIDs, poi.ElementID)
		batch.longitudes = append(batch.longitudes, poi.Location.Lng)
		batch.latitudes = append(batch.latitudes, poi.Location.Lat)
		batch.tags = append(batch.tags, string(tagsJSON))
	}
	return batch, nil
}

func upsertPOIs(ctx context.Context, tx pgx.Tx, pois []catalog.PointOfInterest) error {
	batch, err := toPOIBatch(pois)
	if err != nil {
		return err
	}
	if batch == nil {
		return nil
	}

	_, err = tx.Exec(ctx, upsertPOIsSQL,
		batch.elementTypes, batch.elementIDs, batch.longitudes, batch.latitudes, batch.tags)
	if err != nil {
		return fmt.Errorf("failed to upsert pois: %w", err)
	}
	return nil
}

// CountPOIs returns the number of stored POIs.
func (db *DB) CountPOIs(ctx context.Context) (int64, error) {
	var count int64
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pois`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pois: %w", err)
	}
	return count, nil
}
