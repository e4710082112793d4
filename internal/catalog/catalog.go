// Package catalog defines the domain records shared by the batch and
// enrichment ingestion paths.
package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/tourforge/poi-catalogue/internal/geo"
)

// CategoryKeys are the OSM tag keys that mark an element as a candidate
// point of interest. Order matters: the first present key names the category.
var CategoryKeys = []string{
	"tourism",
	"amenity",
	"historic",
	"leisure",
	"shop",
	"natural",
	"man_made",
}

// PointOfInterest is a geocoded, tagged place feeding the tour catalogue.
// Identity is (ElementType, ElementID); the pois primary key enforces it.
type PointOfInterest struct {
	ElementType string // "node", "way" or "relation"
	ElementID   int64
	Location    geo.Point
	Tags        map[string]string
}

// Name returns the element's name tag, or "" when untagged.
func (p PointOfInterest) Name() string {
	return p.Tags["name"]
}

// Category returns the first category key present on the element and its
// value, or two empty strings when none apply.
func (p PointOfInterest) Category() (key, value string) {
	for _, k := range CategoryKeys {
		if v, ok := p.Tags[k]; ok && v != "" && v != "no" {
			return k, v
		}
	}
	return "", ""
}

// IsCandidate reports whether a tag map describes a catalogue-worthy POI:
// it must carry a name and at least one category key.
func IsCandidate(tags map[string]string) bool {
	if tags["name"] == "" {
		return false
	}
	for _, k := range CategoryKeys {
		if v, ok := tags[k]; ok && v != "" && v != "no" {
			return true
		}
	}
	return false
}

// OsmIngestionProvenance records one executed batch import. The pair
// (GeofenceID, InputDigest) is unique in storage and is the idempotency key
// for the batch path: a rerun over identical bytes is detected and skipped.
type OsmIngestionProvenance struct {
	ID               uuid.UUID
	GeofenceID       string
	SourceURL        string
	InputDigest      string
	ImportedAt       time.Time
	Bounds           geo.GeofenceBounds
	RawPOICount      int
	FilteredPOICount int
	CreatedAt        time.Time
}

// EnrichmentProvenance records one enrichment attempt that reached the
// upstream source and returned, including zero-result fetches. Attempts
// rejected before the fetch leave no record.
type EnrichmentProvenance struct {
	ID         uuid.UUID
	SourceURL  string
	ImportedAt time.Time
	Bounds     geo.GeofenceBounds
	CreatedAt  time.Time
}

// IngestStatus is the terminal state of one batch command run.
type IngestStatus string

const (
	// IngestExecuted means the extract was parsed and persisted.
	IngestExecuted IngestStatus = "Executed"
	// IngestReplayed means an identical import already exists; nothing was written.
	IngestReplayed IngestStatus = "Replayed"
)

// IngestOutcome is the result of one batch command run. Replayed runs
// report PersistedCount zero.
type IngestOutcome struct {
	Status         IngestStatus
	RawCount       int
	PersistedCount int
}
