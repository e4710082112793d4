package overpass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourforge/poi-catalogue/internal/geo"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	client, err := NewClient(Options{
		Endpoint:           serverURL,
		Contact:            "ops@example.test",
		MinRequestInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

type capturedRequest struct {
	query     string
	userAgent string
	contact   string
	accept    string
}

func TestFetch_DecodesElements(t *testing.T) {
	var captured atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		captured.Store(capturedRequest{
			query:     r.PostForm.Get("data"),
			userAgent: r.Header.Get("User-Agent"),
			contact:   r.Header.Get("Contact"),
			accept:    r.Header.Get("Accept"),
		})

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"elements": [
				{"type": "node", "id": 101, "lon": -3.2, "lat": 55.95,
				 "tags": {"name": "Museum", "tourism": "museum"}},
				{"type": "way", "id": 202,
				 "center": {"lon": -3.25, "lat": 55.92},
				 "tags": {"name": "Gardens", "leisure": "garden"}},
				{"type": "node", "id": 303, "lon": -3.21, "lat": 55.94}
			]
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Fetch(context.Background(), Request{Bounds: testQueryBounds(), Tags: []string{"tourism"}})
	require.NoError(t, err)

	require.Len(t, resp.POIs, 3)
	assert.Equal(t, "node", resp.POIs[0].ElementType)
	assert.Equal(t, int64(101), resp.POIs[0].ElementID)
	assert.Equal(t, geo.Point{Lng: -3.2, Lat: 55.95}, resp.POIs[0].Location)
	assert.Equal(t, "Museum", resp.POIs[0].Tags["name"])

	// way coordinates come from the center attached by "out center"
	assert.Equal(t, geo.Point{Lng: -3.25, Lat: 55.92}, resp.POIs[1].Location)

	// untagged element decodes with an empty, non-nil tag map
	assert.NotNil(t, resp.POIs[2].Tags)
	assert.Empty(t, resp.POIs[2].Tags)

	assert.Positive(t, resp.TransferBytes)
	assert.Equal(t, server.URL, resp.SourceURL)

	req, ok := captured.Load().(capturedRequest)
	require.True(t, ok, "server never saw the request")
	assert.Equal(t, DefaultUserAgent, req.userAgent)
	assert.Equal(t, "ops@example.test", req.contact)
	assert.Equal(t, "application/json", req.accept)
	assert.Contains(t, req.query, "[out:json][timeout:180];")
	assert.Contains(t, req.query, `node["tourism"](55.9,-3.3,56,-3.1);`)
	assert.Contains(t, req.query, "out center tags;")
}

func TestFetch_EmptyElements(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"elements": []}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Fetch(context.Background(), Request{Bounds: testQueryBounds()})
	require.NoError(t, err)
	assert.Empty(t, resp.POIs)
	assert.Positive(t, resp.TransferBytes, "transfer accounting covers empty results too")
}

func TestFetch_MissingCoordinatesFailsDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"elements": [{"type": "relation", "id": 7, "tags": {"name": "No centre"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Fetch(context.Background(), Request{Bounds: testQueryBounds()})
	require.Error(t, err)

	var opErr *Error
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindDecode, opErr.Kind)
	assert.False(t, opErr.Retryable())
	assert.Contains(t, err.Error(), "element 7 (relation) missing coordinates")
}

func TestFetch_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"elements": [`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Fetch(context.Background(), Request{Bounds: testQueryBounds()})
	require.Error(t, err)

	var opErr *Error
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindDecode, opErr.Kind)
}

func TestFetch_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantKind  Kind
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, KindRateLimited, true},
		{"request timeout", http.StatusRequestTimeout, KindTimeout, true},
		{"gateway timeout", http.StatusGatewayTimeout, KindTimeout, true},
		{"bad request", http.StatusBadRequest, KindInvalidRequest, false},
		{"not found", http.StatusNotFound, KindInvalidRequest, false},
		{"server error", http.StatusInternalServerError, KindTransport, true},
		{"bad gateway", http.StatusBadGateway, KindTransport, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("upstream says no"))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			_, err := client.Fetch(context.Background(), Request{Bounds: testQueryBounds()})
			require.Error(t, err)

			var opErr *Error
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, tt.wantKind, opErr.Kind)
			assert.Equal(t, tt.retryable, opErr.Retryable())
			assert.Contains(t, opErr.Message, "upstream says no")
		})
	}
}

func TestFetch_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := server.URL
	server.Close() // nothing listens any more

	client := newTestClient(t, endpoint)
	_, err := client.Fetch(context.Background(), Request{Bounds: testQueryBounds()})
	require.Error(t, err)

	var opErr *Error
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindTransport, opErr.Kind)
	assert.True(t, opErr.Retryable())
}

func TestNewClient_RejectsRelativeEndpoint(t *testing.T) {
	_, err := NewClient(Options{Endpoint: "not-a-url"})
	assert.Error(t, err)
}

func TestBodyPreview_Truncates(t *testing.T) {
	long := make([]byte, 0, 4096)
	for i := 0; i < 400; i++ {
		long = append(long, []byte("word ")...)
	}
	preview := bodyPreview(long)
	assert.LessOrEqual(t, len([]rune(preview)), previewCharLimit+3)
	assert.Contains(t, preview, "...")

	assert.Equal(t, "a b", bodyPreview([]byte(" a \n  b \t")))
}
