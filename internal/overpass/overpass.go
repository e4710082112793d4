// Package overpass provides the HTTP client for the Overpass API. It owns
// transport details only: query serialisation, pacing, timeout and status
// mapping, and JSON decoding into catalogue POIs.
package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tourforge/poi-catalogue/internal/catalog"
	"github.com/tourforge/poi-catalogue/internal/geo"
)

// DefaultRequestTimeout bounds one HTTP round trip to Overpass.
const DefaultRequestTimeout = 3 * time.Minute

// DefaultQueryTimeoutSeconds is the timeout directive embedded in query text.
const DefaultQueryTimeoutSeconds = 180

// DefaultUserAgent identifies this service to the Overpass operators.
const DefaultUserAgent = "poi-catalogue-enrichment/1.0"

// DefaultMinRequestInterval spaces successive requests to the shared public
// endpoint. Overpass etiquette asks clients to stay near one request per
// second per endpoint.
const DefaultMinRequestInterval = time.Second

// Request describes one enrichment fetch.
type Request struct {
	// JobID correlates log lines and traces for one worker job.
	JobID uuid.UUID
	// Bounds scope the query; Overpass receives them as (south,west,north,east).
	Bounds geo.GeofenceBounds
	// Tags are "key" or "key=value" selectors; empty means unscoped.
	Tags []string
}

// Response is one decoded Overpass result.
type Response struct {
	POIs []catalog.PointOfInterest
	// SourceURL is the endpoint that served the call, recorded in provenance.
	SourceURL string
	// TransferBytes is the response body size, used for quota accounting.
	TransferBytes int64
}

// Options configures the client.
type Options struct {
	Endpoint            string
	UserAgent           string
	Contact             string
	RequestTimeout      time.Duration
	QueryTimeoutSeconds int
	MinRequestInterval  time.Duration
}

// Client performs paced POST requests against one Overpass endpoint.
type Client struct {
	httpClient          *http.Client
	endpoint            string
	userAgent           string
	contact             string
	queryTimeoutSeconds int
	pacer               *rate.Limiter
}

// NewClient validates the endpoint and builds a client with defaults applied.
func NewClient(opts Options) (*Client, error) {
	parsed, err := url.Parse(opts.Endpoint)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("overpass endpoint must be an absolute URL, got %q", opts.Endpoint)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.QueryTimeoutSeconds <= 0 {
		opts.QueryTimeoutSeconds = DefaultQueryTimeoutSeconds
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MinRequestInterval <= 0 {
		opts.MinRequestInterval = DefaultMinRequestInterval
	}

	return &Client{
		httpClient:          &http.Client{Timeout: opts.RequestTimeout},
		endpoint:            opts.Endpoint,
		userAgent:           opts.UserAgent,
		contact:             opts.Contact,
		queryTimeoutSeconds: opts.QueryTimeoutSeconds,
		pacer:               rate.NewLimiter(rate.Every(opts.MinRequestInterval), 1),
	}, nil
}

// Fetch posts one query and decodes the response. All failures come back as
// *Error so callers can classify them for retry.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	query, err := buildQuery(req.Bounds, req.Tags, c.queryTimeoutSeconds)
	if err != nil {
		return nil, err
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Message: "cancelled while pacing request", Cause: err}
	}

	form := url.Values{"data": {query}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Message: "failed to build request", Cause: err}
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if c.contact != "" {
		httpReq.Header.Set("Contact", c.contact)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mapTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mapStatusError(resp.StatusCode, body)
	}

	pois, err := decodePOIs(body)
	if err != nil {
		return nil, err
	}
	return &Response{POIs: pois, SourceURL: c.endpoint, TransferBytes: int64(len(body))}, nil
}

type responseDTO struct {
	Elements []elementDTO `json:"elements"`
}

type elementDTO struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lon    *float64          `json:"lon"`
	Lat    *float64          `json:"lat"`
	Center *centerDTO        `json:"center"`
	Tags   map[string]string `json:"tags"`
}

type centerDTO struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

func decodePOIs(body []byte) ([]catalog.PointOfInterest, error) {
	var decoded responseDTO
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &Error{Kind: KindDecode, Message: "invalid Overpass JSON payload", Cause: err}
	}

	pois := make([]catalog.PointOfInterest, 0, len(decoded.Elements))
	for _, element := range decoded.Elements {
		poi, err := element.toPOI()
		if err != nil {
			return nil, err
		}
		pois = append(pois, poi)
	}
	return pois, nil
}

func (e elementDTO) toPOI() (catalog.PointOfInterest, error) {
	lng, lat, ok := e.coordinates()
	if !ok {
		return catalog.PointOfInterest{}, &Error{
			Kind:    KindDecode,
			Message: fmt.Sprintf("element %d (%s) missing coordinates", e.ID, e.Type),
		}
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return catalog.PointOfInterest{}, &Error{
			Kind:    KindDecode,
			Message: fmt.Sprintf("element %d (%s) includes non-finite coordinates", e.ID, e.Type),
		}
	}

	tags := e.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return catalog.PointOfInterest{
		ElementType: e.Type,
		ElementID:   e.ID,
		Location:    geo.Point{Lng: lng, Lat: lat},
		Tags:        tags,
	}, nil
}

// coordinates prefers a node's own lon/lat, falling back to the center the
// "out center" directive attaches to ways and relations.
func (e elementDTO) coordinates() (lng, lat float64, ok bool) {
	if e.Lon != nil && e.Lat != nil {
		return *e.Lon, *e.Lat, true
	}
	if e.Center != nil {
		return e.Center.Lon, e.Center.Lat, true
	}
	return 0, 0, false
}

func mapTransportError(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	return &Error{Kind: KindTransport, Message: "request failed", Cause: err}
}

func mapStatusError(status int, body []byte) *Error {
	message := fmt.Sprintf("status %d", status)
	if preview := bodyPreview(body); preview != "" {
		message = fmt.Sprintf("status %d: %s", status, preview)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Message: message}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Message: message}
	case status >= 400 && status < 500:
		return &Error{Kind: KindInvalidRequest, Message: message}
	default:
		return &Error{Kind: KindTransport, Message: message}
	}
}

const previewCharLimit = 160

// bodyPreview compacts a response body into a single short diagnostic line.
func bodyPreview(body []byte) string {
	compact := strings.Join(strings.Fields(string(body)), " ")
	runes := []rune(compact)
	if len(runes) <= previewCharLimit {
		return compact
	}
	return string(runes[:previewCharLimit]) + "..."
}
