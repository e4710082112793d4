package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// BoundsBody is the bounding-box payload of one provenance record.
type BoundsBody struct {
	MinLng float64 `json:"minLng"`
	MinLat float64 `json:"minLat"`
	MaxLng float64 `json:"maxLng"`
	MaxLat float64 `json:"maxLat"`
}

// ProvenanceRecordBody is one enrichment provenance record.
type ProvenanceRecordBody struct {
	SourceURL   string     `json:"sourceUrl"`
	ImportedAt  string     `json:"importedAt"`
	BoundingBox BoundsBody `json:"boundingBox"`
}

// ListProvenanceResponse is the provenance listing payload. NextBefore is the
// cursor for the next page and is absent on the last page.
type ListProvenanceResponse struct {
	Records    []ProvenanceRecordBody `json:"records"`
	NextBefore *string                `json:"nextBefore,omitempty"`
}

// handleListEnrichmentProvenance lists enrichment provenance newest-first,
// paginated by an exclusive RFC3339 cursor on imported_at.
func (s *Server) handleListEnrichmentProvenance(w http.ResponseWriter, r *http.Request) {
	limit, err := parseListLimit(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	before, err := parseBeforeCursor(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.store.ListRecentEnrichment(r.Context(), limit, before)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	records := make([]ProvenanceRecordBody, 0, len(page.Records))
	for _, record := range page.Records {
		records = append(records, ProvenanceRecordBody{
			SourceURL:  record.SourceURL,
			ImportedAt: record.ImportedAt.Format(time.RFC3339Nano),
			BoundingBox: BoundsBody{
				MinLng: record.Bounds.MinLng,
				MinLat: record.Bounds.MinLat,
				MaxLng: record.Bounds.MaxLng,
				MaxLat: record.Bounds.MaxLat,
			},
		})
	}

	response := ListProvenanceResponse{Records: records}
	if page.NextBefore != nil {
		cursor := page.NextBefore.Format(time.RFC3339Nano)
		response.NextBefore = &cursor
	}
	s.jsonResponse(w, http.StatusOK, response)
}

// handleHealthz reports whether the database is reachable.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "database unreachable: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseListLimit reads the limit parameter. Unlike a silent clamp, an
// out-of-range or non-numeric value is a client error.
func parseListLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", maxListLimit)
	}
	return limit, nil
}

func parseBeforeCursor(r *http.Request) (*time.Time, error) {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		return nil, nil
	}
	cursor, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("before must be an RFC3339 timestamp")
	}
	return &cursor, nil
}
