// Package config loads and validates the enrich-worker configuration file:
// the geofence registry plus Overpass, admission, and runtime tuning.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tourforge/poi-catalogue/internal/enrich"
	"github.com/tourforge/poi-catalogue/internal/geo"
	"github.com/tourforge/poi-catalogue/internal/overpass"
	"github.com/tourforge/poi-catalogue/internal/schemas"
)

// RegistrySchemaPath is the repo-relative JSON Schema the config document is
// validated against before decoding.
const RegistrySchemaPath = "schemas/geofence_registry.schema.json"

// WorkerConfig is the enrich-worker configuration document. Every tuning
// field is optional; zeroes are filled from the production defaults. The
// geofence registry is required and never defaulted.
type WorkerConfig struct {
	Overpass  OverpassSettings `json:"overpass"`
	Worker    WorkerSettings   `json:"worker"`
	Runtime   RuntimeSettings  `json:"runtime"`
	Geofences []Geofence       `json:"geofences" validate:"required,min=1,dive"`
}

// OverpassSettings tunes the upstream client.
type OverpassSettings struct {
	Endpoint              string `json:"endpoint,omitempty" validate:"omitempty,url"`
	Contact               string `json:"contact,omitempty"`
	QueryTimeoutSeconds   int    `json:"query_timeout_seconds,omitempty" validate:"gte=0"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty" validate:"gte=0"`
	MinRequestIntervalMS  int    `json:"min_request_interval_ms,omitempty" validate:"gte=0"`
}

// WorkerSettings tunes admission and retry for the shared worker.
type WorkerSettings struct {
	MaxConcurrentCalls    int   `json:"max_concurrent_calls,omitempty" validate:"gte=0"`
	MaxDailyRequests      int   `json:"max_daily_requests,omitempty" validate:"gte=0"`
	MaxDailyTransferBytes int64 `json:"max_daily_transfer_bytes,omitempty" validate:"gte=0"`
	MaxAttempts           int   `json:"max_attempts,omitempty" validate:"gte=0"`
	InitialBackoffMS      int   `json:"initial_backoff_ms,omitempty" validate:"gte=0"`
	MaxBackoffMS          int   `json:"max_backoff_ms,omitempty" validate:"gte=0"`
	FailureThreshold      int   `json:"failure_threshold,omitempty" validate:"gte=0"`
	OpenCooldownSeconds   int   `json:"open_cooldown_seconds,omitempty" validate:"gte=0"`
}

// RuntimeSettings tunes the scheduling loop.
type RuntimeSettings struct {
	IntervalSeconds    int `json:"interval_seconds,omitempty" validate:"gte=0"`
	JobDeadlineSeconds int `json:"job_deadline_seconds,omitempty" validate:"gte=0"`
}

// Geofence is one registry entry. Bounds are ordered
// [min_lng, min_lat, max_lng, max_lat] like the CLI form.
type Geofence struct {
	ID       string    `json:"id" validate:"required"`
	Bounds   []float64 `json:"bounds" validate:"required,len=4"`
	Tags     []string  `json:"tags,omitempty"`
	Disabled bool      `json:"disabled,omitempty"`
}

func (g Geofence) boundsBox() (geo.GeofenceBounds, error) {
	if len(g.Bounds) != 4 {
		return geo.GeofenceBounds{}, fmt.Errorf("bounds must have exactly 4 values, got %d", len(g.Bounds))
	}
	bounds := geo.GeofenceBounds{
		MinLng: g.Bounds[0],
		MinLat: g.Bounds[1],
		MaxLng: g.Bounds[2],
		MaxLat: g.Bounds[3],
	}
	if err := bounds.Validate(); err != nil {
		return geo.GeofenceBounds{}, err
	}
	return bounds, nil
}

// Load reads the config file, validates it against the registry schema,
// fills defaults, and checks the struct invariants. The returned config is
// ready to wire into the worker.
func Load(path string) (*WorkerConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	schemaPath := schemas.ResolveSchemaPath(filepath.FromSlash(RegistrySchemaPath))
	if schemaPath == "" {
		return nil, fmt.Errorf("registry schema %s not found", RegistrySchemaPath)
	}
	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry schema %s: %w", schemaPath, err)
	}
	if err := schemas.ValidateJSONString(string(schemaData), string(data)); err != nil {
		return nil, fmt.Errorf("config file %s failed schema validation: %w", path, err)
	}

	var cfg WorkerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	merged := cfg.WithDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// WithDefaults returns a copy with every unset tuning field filled from the
// production defaults.
func (c WorkerConfig) WithDefaults() WorkerConfig {
	result := c

	if result.Overpass.Endpoint == "" {
		result.Overpass.Endpoint = "https://overpass-api.de/api/interpreter"
	}
	if result.Overpass.QueryTimeoutSeconds == 0 {
		result.Overpass.QueryTimeoutSeconds = overpass.DefaultQueryTimeoutSeconds
	}
	if result.Overpass.RequestTimeoutSeconds == 0 {
		result.Overpass.RequestTimeoutSeconds = int(overpass.DefaultRequestTimeout / time.Second)
	}
	if result.Overpass.MinRequestIntervalMS == 0 {
		result.Overpass.MinRequestIntervalMS = int(overpass.DefaultMinRequestInterval / time.Millisecond)
	}

	defaults := enrich.DefaultConfig()
	if result.Worker.MaxConcurrentCalls == 0 {
		result.Worker.MaxConcurrentCalls = defaults.MaxConcurrentCalls
	}
	if result.Worker.MaxDailyRequests == 0 {
		result.Worker.MaxDailyRequests = defaults.MaxDailyRequests
	}
	if result.Worker.MaxDailyTransferBytes == 0 {
		result.Worker.MaxDailyTransferBytes = defaults.MaxDailyTransferBytes
	}
	if result.Worker.MaxAttempts == 0 {
		result.Worker.MaxAttempts = defaults.MaxAttempts
	}
	if result.Worker.InitialBackoffMS == 0 {
		result.Worker.InitialBackoffMS = int(defaults.InitialBackoff / time.Millisecond)
	}
	if result.Worker.MaxBackoffMS == 0 {
		result.Worker.MaxBackoffMS = int(defaults.MaxBackoff / time.Millisecond)
	}
	if result.Worker.FailureThreshold == 0 {
		result.Worker.FailureThreshold = defaults.FailureThreshold
	}
	if result.Worker.OpenCooldownSeconds == 0 {
		result.Worker.OpenCooldownSeconds = int(defaults.OpenCooldown / time.Second)
	}

	runtimeDefaults := enrich.DefaultRuntimeConfig()
	if result.Runtime.IntervalSeconds == 0 {
		result.Runtime.IntervalSeconds = int(runtimeDefaults.Interval / time.Second)
	}
	if result.Runtime.JobDeadlineSeconds == 0 {
		result.Runtime.JobDeadlineSeconds = int(runtimeDefaults.JobDeadline / time.Second)
	}

	return result
}

// Validate checks the invariants the schema cannot express: numeric ranges,
// geofence bounds ordering, and registry ID uniqueness.
func (c *WorkerConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	seen := make(map[string]bool, len(c.Geofences))
	for _, g := range c.Geofences {
		if seen[g.ID] {
			return fmt.Errorf("config error: duplicate geofence id %q", g.ID)
		}
		seen[g.ID] = true
		if _, err := g.boundsBox(); err != nil {
			return fmt.Errorf("config error: geofence %q: %w", g.ID, err)
		}
	}
	return nil
}

// EnabledJobs converts the registry into the worker's job list, skipping
// disabled entries.
func (c *WorkerConfig) EnabledJobs() ([]enrich.Job, error) {
	jobs := make([]enrich.Job, 0, len(c.Geofences))
	for _, g := range c.Geofences {
		if g.Disabled {
			continue
		}
		bounds, err := g.boundsBox()
		if err != nil {
			return nil, fmt.Errorf("geofence %q: %w", g.ID, err)
		}
		jobs = append(jobs, enrich.Job{GeofenceID: g.ID, Bounds: bounds, Tags: g.Tags})
	}
	return jobs, nil
}

// EnrichConfig maps the worker section onto the worker's tuning struct.
func (c *WorkerConfig) EnrichConfig() enrich.Config {
	return enrich.Config{
		MaxConcurrentCalls:    c.Worker.MaxConcurrentCalls,
		MaxDailyRequests:      c.Worker.MaxDailyRequests,
		MaxDailyTransferBytes: c.Worker.MaxDailyTransferBytes,
		MaxAttempts:           c.Worker.MaxAttempts,
		InitialBackoff:        time.Duration(c.Worker.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:            time.Duration(c.Worker.MaxBackoffMS) * time.Millisecond,
		FailureThreshold:      c.Worker.FailureThreshold,
		OpenCooldown:          time.Duration(c.Worker.OpenCooldownSeconds) * time.Second,
	}
}

// RuntimeConfig maps the runtime section onto the scheduling loop's tuning.
func (c *WorkerConfig) RuntimeConfig() enrich.RuntimeConfig {
	return enrich.RuntimeConfig{
		Interval:    time.Duration(c.Runtime.IntervalSeconds) * time.Second,
		JobDeadline: time.Duration(c.Runtime.JobDeadlineSeconds) * time.Second,
	}
}

// OverpassOptions maps the overpass section onto the client options.
func (c *WorkerConfig) OverpassOptions() overpass.Options {
	return overpass.Options{
		Endpoint:            c.Overpass.Endpoint,
		Contact:             c.Overpass.Contact,
		QueryTimeoutSeconds: c.Overpass.QueryTimeoutSeconds,
		RequestTimeout:      time.Duration(c.Overpass.RequestTimeoutSeconds) * time.Second,
		MinRequestInterval:  time.Duration(c.Overpass.MinRequestIntervalMS) * time.Millisecond,
	}
}
