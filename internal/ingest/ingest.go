// Package ingest implements the batch OSM import command: digest-keyed
// idempotent reruns, geofence filtering, and transactional persistence.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tourforge/poi-catalogue/internal/catalog"
	"github.com/tourforge/poi-catalogue/internal/db"
	"github.com/tourforge/poi-catalogue/internal/digest"
	"github.com/tourforge/poi-catalogue/internal/geo"
	"github.com/tourforge/poi-catalogue/internal/osmpbf"
)

// Request carries the operator inputs for one batch import run.
type Request struct {
	PBFPath    string
	SourceURL  string
	GeofenceID string
	Bounds     geo.GeofenceBounds
}

// Report is everything one run prints: the outcome plus the provenance
// fields behind it. On a replay the fields come from the existing record,
// not from the request.
type Report struct {
	Outcome     catalog.IngestOutcome
	SourceURL   string
	GeofenceID  string
	InputDigest string
	ImportedAt  time.Time
	Bounds      geo.GeofenceBounds
}

// Lines renders the report as the CLI's key=value output, in stable order.
func (r Report) Lines() []string {
	return []string{
		"status=" + string(r.Outcome.Status),
		"source_url=" + r.SourceURL,
		"geofence_id=" + r.GeofenceID,
		"input_digest=" + r.InputDigest,
		"imported_at=" + r.ImportedAt.Format(time.RFC3339),
		"geofence_bounds=" + r.Bounds.String(),
		fmt.Sprintf("raw_poi_count=%d", r.Outcome.RawCount),
		fmt.Sprintf("persisted_poi_count=%d", r.Outcome.PersistedCount),
	}
}

// Store is the provenance and POI persistence port for the batch path.
type Store interface {
	FindImport(ctx context.Context, geofenceID, inputDigest string) (*catalog.OsmIngestionProvenance, error)
	PersistImport(ctx context.Context, prov catalog.OsmIngestionProvenance, pois []catalog.PointOfInterest) error
}

// RunMetrics counts finished runs by outcome. Failed runs surface as errors
// and are not counted.
type RunMetrics interface {
	ObserveRun(status catalog.IngestStatus)
}

// NopRunMetrics discards observations.
type NopRunMetrics struct{}

func (NopRunMetrics) ObserveRun(catalog.IngestStatus) {}

// ParseFunc turns a PBF extract on disk into raw candidate POIs.
type ParseFunc func(ctx context.Context, path string) ([]catalog.PointOfInterest, error)

// DigestFunc computes the hex SHA-256 rerun key for the extract bytes.
type DigestFunc func(path string) (string, error)

// Params bundles the ports a command needs. Store is required; everything
// else defaults to the production implementation.
type Params struct {
	Store   Store
	Parse   ParseFunc
	Digest  DigestFunc
	Metrics RunMetrics
	Now     func() time.Time
	Logger  *slog.Logger
}

// Command executes batch imports.
type Command struct {
	store   Store
	parse   ParseFunc
	digest  DigestFunc
	metrics RunMetrics
	now     func() time.Time
	log     *slog.Logger
}

// NewCommand wires a command from its ports.
func NewCommand(p Params) *Command {
	if p.Parse == nil {
		p.Parse = osmpbf.ExtractPOIs
	}
	if p.Digest == nil {
		p.Digest = digest.File
	}
	if p.Metrics == nil {
		p.Metrics = NopRunMetrics{}
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Command{store: p.Store, parse: p.Parse, digest: p.Digest, metrics: p.Metrics, now: p.Now, log: p.Logger}
}

// Run executes one import end to end. Reruns over identical extract bytes
// for the same geofence are detected through the digest rerun key and
// replayed without writes, whether the pre-check or the storage unique
// constraint catches them.
func (c *Command) Run(ctx context.Context, req Request) (Report, error) {
	if err := validate(req); err != nil {
		return Report{}, err
	}

	inputDigest, err := c.digest(req.PBFPath)
	if err != nil {
		return Report{}, &catalog.UnavailableError{Op: "digest OSM extract", Cause: err}
	}
	log := c.log.With("geofence_id", req.GeofenceID, "input_digest", inputDigest)

	existing, err := c.store.FindImport(ctx, req.GeofenceID, inputDigest)
	if err != nil {
		return Report{}, &catalog.UnavailableError{Op: "look up import rerun key", Cause: err}
	}
	if existing != nil {
		c.metrics.ObserveRun(catalog.IngestReplayed)
		log.Info("import replayed", "imported_at", existing.ImportedAt)
		return replayedReport(*existing), nil
	}

	pois, err := c.parse(ctx, req.PBFPath)
	if err != nil {
		return Report{}, &catalog.UnavailableError{Op: "ingest OSM source", Cause: err}
	}

	kept := filterToBounds(pois, req.Bounds)
	prov := catalog.OsmIngestionProvenance{
		GeofenceID:       req.GeofenceID,
		SourceURL:        req.SourceURL,
		InputDigest:      inputDigest,
		ImportedAt:       c.now().UTC(),
		Bounds:           req.Bounds,
		RawPOICount:      len(pois),
		FilteredPOICount: len(kept),
	}

	if err := c.store.PersistImport(ctx, prov, kept); err != nil {
		if errors.Is(err, db.ErrDuplicateImport) {
			return c.replayAfterConflict(ctx, log, req.GeofenceID, inputDigest)
		}
		return Report{}, &catalog.UnavailableError{Op: "persist import", Cause: err}
	}

	c.metrics.ObserveRun(catalog.IngestExecuted)
	log.Info("import executed", "raw_poi_count", len(pois), "persisted_poi_count", len(kept))
	return Report{
		Outcome: catalog.IngestOutcome{
			Status:         catalog.IngestExecuted,
			RawCount:       len(pois),
			PersistedCount: len(kept),
		},
		SourceURL:   req.SourceURL,
		GeofenceID:  req.GeofenceID,
		InputDigest: inputDigest,
		ImportedAt:  prov.ImportedAt,
		Bounds:      req.Bounds,
	}, nil
}

// replayAfterConflict re-reads the rerun key after a unique violation: a
// concurrent rerun won the insert race, which is a replay, not a failure.
func (c *Command) replayAfterConflict(ctx context.Context, log *slog.Logger, geofenceID, inputDigest string) (Report, error) {
	existing, err := c.store.FindImport(ctx, geofenceID, inputDigest)
	if err != nil {
		return Report{}, &catalog.UnavailableError{Op: "resolve import conflict", Cause: err}
	}
	if existing == nil {
		return Report{}, &catalog.UnavailableError{
			Op:    "resolve import conflict",
			Cause: errors.New("duplicate reported but rerun key not found"),
		}
	}
	c.metrics.ObserveRun(catalog.IngestReplayed)
	log.Info("import replayed after insert conflict")
	return replayedReport(*existing), nil
}

func replayedReport(existing catalog.OsmIngestionProvenance) Report {
	return Report{
		Outcome: catalog.IngestOutcome{
			Status:   catalog.IngestReplayed,
			RawCount: existing.RawPOICount,
		},
		SourceURL:   existing.SourceURL,
		GeofenceID:  existing.GeofenceID,
		InputDigest: existing.InputDigest,
		ImportedAt:  existing.ImportedAt,
		Bounds:      existing.Bounds,
	}
}

func validate(req Request) error {
	if strings.TrimSpace(req.SourceURL) == "" {
		return &catalog.ValidationError{Field: "source-url", Msg: "must not be empty"}
	}
	if u, err := url.Parse(req.SourceURL); err != nil || !u.IsAbs() {
		return &catalog.ValidationError{Field: "source-url", Msg: "must be an absolute URL"}
	}
	if strings.TrimSpace(req.GeofenceID) == "" {
		return &catalog.ValidationError{Field: "geofence-id", Msg: "must not be empty"}
	}
	if err := req.Bounds.Validate(); err != nil {
		return &catalog.ValidationError{Field: "geofence-bounds", Msg: err.Error()}
	}
	return nil
}

// filterToBounds keeps the parsed POIs inside the geofence. The candidate
// tag predicate already ran during extraction, so only location is checked.
func filterToBounds(pois []catalog.PointOfInterest, bounds geo.GeofenceBounds) []catalog.PointOfInterest {
	kept := make([]catalog.PointOfInterest, 0, len(pois))
	for _, poi := range pois {
		if bounds.Contains(poi.Location) {
			kept = append(kept, poi)
		}
	}
	return kept
}
