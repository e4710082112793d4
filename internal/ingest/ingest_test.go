package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourforge/poi-catalogue/internal/catalog"
	"github.com/tourforge/poi-catalogue/internal/db"
	"github.com/tourforge/poi-catalogue/internal/geo"
)

var testDigest = strings.Repeat("ab", 32)

var testBounds = geo.GeofenceBounds{MinLng: -3.3, MinLat: 55.9, MaxLng: -3.1, MaxLat: 56.0}

var testImportedAt = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

type persistedImport struct {
	prov catalog.OsmIngestionProvenance
	pois []catalog.PointOfInterest
}

// stubStore answers FindImport from a queue, one entry per expected call,
// and records every persist.
type stubStore struct {
	finds      []*catalog.OsmIngestionProvenance
	findErr    error
	persistErr error

	findCalls int
	persisted []persistedImport
}

func (s *stubStore) FindImport(ctx context.Context, geofenceID, inputDigest string) (*catalog.OsmIngestionProvenance, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if len(s.finds) == 0 {
		return nil, nil
	}
	next := s.finds[0]
	s.finds = s.finds[1:]
	return next, nil
}

func (s *stubStore) PersistImport(ctx context.Context, prov catalog.OsmIngestionProvenance, pois []catalog.PointOfInterest) error {
	if s.persistErr != nil {
		return s.persistErr
	}
	s.persisted = append(s.persisted, persistedImport{prov: prov, pois: pois})
	return nil
}

type stubParser struct {
	pois  []catalog.PointOfInterest
	err   error
	calls int
}

func (p *stubParser) parse(ctx context.Context, path string) ([]catalog.PointOfInterest, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.pois, nil
}

func poiAt(id int64, lng, lat float64) catalog.PointOfInterest {
	return catalog.PointOfInterest{
		ElementType: "node",
		ElementID:   id,
		Location:    geo.Point{Lng: lng, Lat: lat},
		Tags:        map[string]string{"name": "Somewhere", "tourism": "museum"},
	}
}

func testRequest() Request {
	return Request{
		PBFPath:    "/data/launch-a.osm.pbf",
		SourceURL:  "https://download.geofabrik.de/launch-a.osm.pbf",
		GeofenceID: "launch-a",
		Bounds:     testBounds,
	}
}

func newTestCommand(store *stubStore, parser *stubParser) (*Command, *int) {
	digestCalls := 0
	cmd := NewCommand(Params{
		Store: store,
		Parse: parser.parse,
		Digest: func(path string) (string, error) {
			digestCalls++
			return testDigest, nil
		},
		Now:    func() time.Time { return testImportedAt },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return cmd, &digestCalls
}

func TestRun_ExecutedFiltersAndPersists(t *testing.T) {
	store := &stubStore{}
	parser := &stubParser{pois: []catalog.PointOfInterest{
		poiAt(1, -3.2, 55.95),
		poiAt(2, -3.15, 55.92),
		poiAt(3, -3.5, 55.95), // west of the geofence
	}}
	cmd, _ := newTestCommand(store, parser)

	report, err := cmd.Run(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, catalog.IngestExecuted, report.Outcome.Status)
	assert.Equal(t, 3, report.Outcome.RawCount)
	assert.Equal(t, 2, report.Outcome.PersistedCount)
	assert.Equal(t, "https://download.geofabrik.de/launch-a.osm.pbf", report.SourceURL)
	assert.Equal(t, "launch-a", report.GeofenceID)
	assert.Equal(t, testDigest, report.InputDigest)
	assert.Equal(t, testImportedAt, report.ImportedAt)
	assert.Equal(t, testBounds, report.Bounds)

	require.Len(t, store.persisted, 1)
	prov := store.persisted[0].prov
	assert.Equal(t, "launch-a", prov.GeofenceID)
	assert.Equal(t, testDigest, prov.InputDigest)
	assert.Equal(t, testImportedAt, prov.ImportedAt)
	assert.Equal(t, 3, prov.RawPOICount)
	assert.Equal(t, 2, prov.FilteredPOICount)
	require.Len(t, store.persisted[0].pois, 2)
	assert.Equal(t, int64(1), store.persisted[0].pois[0].ElementID)
	assert.Equal(t, int64(2), store.persisted[0].pois[1].ElementID)
}

func TestRun_ReplayedSkipsParseAndPersist(t *testing.T) {
	existing := &catalog.OsmIngestionProvenance{
		GeofenceID:       "launch-a",
		SourceURL:        "https://download.geofabrik.de/archive/launch-a.osm.pbf",
		InputDigest:      testDigest,
		ImportedAt:       testImportedAt.Add(-24 * time.Hour),
		Bounds:           testBounds,
		RawPOICount:      7,
		FilteredPOICount: 5,
	}
	store := &stubStore{finds: []*catalog.OsmIngestionProvenance{existing}}
	parser := &stubParser{}
	cmd, _ := newTestCommand(store, parser)

	report, err := cmd.Run(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, catalog.IngestReplayed, report.Outcome.Status)
	assert.Equal(t, 7, report.Outcome.RawCount)
	assert.Zero(t, report.Outcome.PersistedCount)
	assert.Equal(t, existing.SourceURL, report.SourceURL)
	assert.Equal(t, existing.ImportedAt, report.ImportedAt)
	assert.Zero(t, parser.calls)
	assert.Empty(t, store.persisted)
}

func TestRun_ValidationRejectsBeforeAnyIO(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Request)
		field string
	}{
		{"empty source url", func(r *Request) { r.SourceURL = "  " }, "source-url"},
		{"relative source url", func(r *Request) { r.SourceURL = "download.geofabrik.de/x.pbf" }, "source-url"},
		{"empty geofence id", func(r *Request) { r.GeofenceID = "" }, "geofence-id"},
		{"inverted bounds", func(r *Request) { r.Bounds.MinLng, r.Bounds.MaxLng = r.Bounds.MaxLng, r.Bounds.MinLng }, "geofence-bounds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubStore{}
			parser := &stubParser{}
			cmd, digestCalls := newTestCommand(store, parser)
			req := testRequest()
			tt.edit(&req)

			_, err := cmd.Run(context.Background(), req)

			var verr *catalog.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Zero(t, *digestCalls)
			assert.Zero(t, store.findCalls)
			assert.Zero(t, parser.calls)
		})
	}
}

func TestRun_DigestFailureIsUnavailable(t *testing.T) {
	store := &stubStore{}
	cmd := NewCommand(Params{
		Store:  store,
		Parse:  (&stubParser{}).parse,
		Digest: func(path string) (string, error) { return "", errors.New("permission denied") },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := cmd.Run(context.Background(), testRequest())

	var uerr *catalog.UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Zero(t, store.findCalls)
}

func TestRun_ParseFailureIsUnavailable(t *testing.T) {
	store := &stubStore{}
	parser := &stubParser{err: errors.New("truncated blob header")}
	cmd, _ := newTestCommand(store, parser)

	_, err := cmd.Run(context.Background(), testRequest())

	var uerr *catalog.UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Contains(t, err.Error(), "ingest OSM source")
	assert.Empty(t, store.persisted)
}

func TestRun_InsertConflictReplaysFromStore(t *testing.T) {
	existing := &catalog.OsmIngestionProvenance{
		GeofenceID:       "launch-a",
		SourceURL:        "https://download.geofabrik.de/launch-a.osm.pbf",
		InputDigest:      testDigest,
		ImportedAt:       testImportedAt.Add(-time.Minute),
		Bounds:           testBounds,
		RawPOICount:      4,
		FilteredPOICount: 4,
	}
	store := &stubStore{
		finds:      []*catalog.OsmIngestionProvenance{nil, existing},
		persistErr: db.ErrDuplicateImport,
	}
	parser := &stubParser{pois: []catalog.PointOfInterest{poiAt(1, -3.2, 55.95)}}
	cmd, _ := newTestCommand(store, parser)

	report, err := cmd.Run(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, catalog.IngestReplayed, report.Outcome.Status)
	assert.Equal(t, 4, report.Outcome.RawCount)
	assert.Zero(t, report.Outcome.PersistedCount)
	assert.Equal(t, existing.ImportedAt, report.ImportedAt)
	assert.Equal(t, 2, store.findCalls)
}

func TestRun_ConflictWithMissingRecordFails(t *testing.T) {
	store := &stubStore{persistErr: db.ErrDuplicateImport}
	parser := &stubParser{pois: []catalog.PointOfInterest{poiAt(1, -3.2, 55.95)}}
	cmd, _ := newTestCommand(store, parser)

	_, err := cmd.Run(context.Background(), testRequest())

	var uerr *catalog.UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Contains(t, err.Error(), "rerun key not found")
}

func TestRun_PersistFailureIsUnavailable(t *testing.T) {
	store := &stubStore{persistErr: errors.New("connection refused")}
	parser := &stubParser{pois: []catalog.PointOfInterest{poiAt(1, -3.2, 55.95)}}
	cmd, _ := newTestCommand(store, parser)

	_, err := cmd.Run(context.Background(), testRequest())

	var uerr *catalog.UnavailableError
	require.ErrorAs(t, err, &uerr)
	var ierr *catalog.InternalError
	assert.False(t, errors.As(err, &ierr))
}

func TestReport_LinesAreStable(t *testing.T) {
	report := Report{
		Outcome: catalog.IngestOutcome{
			Status:         catalog.IngestExecuted,
			RawCount:       3,
			PersistedCount: 2,
		},
		SourceURL:   "https://download.geofabrik.de/launch-a.osm.pbf",
		GeofenceID:  "launch-a",
		InputDigest: testDigest,
		ImportedAt:  testImportedAt,
		Bounds:      testBounds,
	}

	lines := report.Lines()

	assert.Equal(t, []string{
		"status=Executed",
		"source_url=https://download.geofabrik.de/launch-a.osm.pbf",
		"geofence_id=launch-a",
		"input_digest=" + testDigest,
		"imported_at=2026-03-14T09:30:00Z",
		"geofence_bounds=-3.3,55.9,-3.1,56",
		"raw_poi_count=3",
		"persisted_poi_count=2",
	}, lines)
}

type recordingRunMetrics struct {
	statuses []catalog.IngestStatus
}

func (m *recordingRunMetrics) ObserveRun(status catalog.IngestStatus) {
	m.statuses = append(m.statuses, status)
}

func TestRun_CountsOutcomesNotFailures(t *testing.T) {
	recorder := &recordingRunMetrics{}
	store := &stubStore{finds: []*catalog.OsmIngestionProvenance{
		nil,
		{GeofenceID: "launch-a", InputDigest: testDigest, ImportedAt: testImportedAt, Bounds: testBounds},
	}}
	parser := &stubParser{pois: []catalog.PointOfInterest{poiAt(1, -3.2, 55.95)}}
	cmd := NewCommand(Params{
		Store:   store,
		Parse:   parser.parse,
		Digest:  func(string) (string, error) { return testDigest, nil },
		Metrics: recorder,
		Now:     func() time.Time { return testImportedAt },
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, err := cmd.Run(context.Background(), testRequest())
	require.NoError(t, err)
	_, err = cmd.Run(context.Background(), testRequest())
	require.NoError(t, err)

	req := testRequest()
	req.GeofenceID = ""
	_, err = cmd.Run(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, []catalog.IngestStatus{catalog.IngestExecuted, catalog.IngestReplayed}, recorder.statuses)
}

func TestRun_FindFailureIsUnavailable(t *testing.T) {
	store := &stubStore{findErr: errors.New("connection reset")}
	parser := &stubParser{}
	cmd, _ := newTestCommand(store, parser)

	_, err := cmd.Run(context.Background(), testRequest())

	var uerr *catalog.UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Contains(t, err.Error(), "look up import rerun key")
	assert.Zero(t, parser.calls)
}
