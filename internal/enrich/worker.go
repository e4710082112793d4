// Package enrich runs the scheduled Overpass enrichment pipeline: admission
// through a shared daily quota, circuit breaker, and concurrency limiter, a
// retried fetch, and transactional persistence of POIs with their provenance
// row.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tourforge/poi-catalogue/internal/catalog"
	"github.com/tourforge/poi-catalogue/internal/geo"
	"github.com/tourforge/poi-catalogue/internal/overpass"
)

// JobStatus labels the terminal state of one enrichment job. The values
// double as metric label values.
type JobStatus string

const (
	// StatusSuccess means the fetch succeeded and the results were persisted.
	StatusSuccess JobStatus = "success"
	// StatusQuotaExceeded means the daily budget refused the job before any
	// other admission step ran.
	StatusQuotaExceeded JobStatus = "quota_exceeded"
	// StatusCircuitOpen means the breaker rejected the job before the
	// semaphore or the upstream were touched.
	StatusCircuitOpen JobStatus = "circuit_open"
	// StatusRetryExhausted means every fetch attempt failed, or the first
	// terminal failure stopped the sequence.
	StatusRetryExhausted JobStatus = "retry_exhausted"
	// StatusProvenanceWriteFailed means the fetch succeeded but the local
	// transaction did not.
	StatusProvenanceWriteFailed JobStatus = "provenance_write_failed"
)

// Outcome summarizes one finished enrichment job.
type Outcome struct {
	Status JobStatus
	// Attempts is the number of source calls used; zero when admission
	// refused the job.
	Attempts int
	// PersistedPOICount counts the POIs written after the defensive filter.
	PersistedPOICount int
	// TransferBytes is the response size charged against the quota.
	TransferBytes int64
}

// Job is one geofence enrichment unit handed to the worker by the runtime.
type Job struct {
	GeofenceID string
	Bounds     geo.GeofenceBounds
	// Tags scope the Overpass query, "key" or "key=value" per entry.
	Tags []string
}

// Source is the Overpass fetch port.
type Source interface {
	Fetch(ctx context.Context, req overpass.Request) (*overpass.Response, error)
}

// Store persists one job's POIs and provenance row in a single transaction.
type Store interface {
	PersistEnrichment(ctx context.Context, prov catalog.EnrichmentProvenance, pois []catalog.PointOfInterest) error
}

// JobMetrics counts finished jobs by status.
type JobMetrics interface {
	ObserveJob(status JobStatus)
}

// NopJobMetrics discards observations.
type NopJobMetrics struct{}

func (NopJobMetrics) ObserveJob(JobStatus) {}

// Config tunes the shared admission state and retry behaviour of a worker.
type Config struct {
	MaxConcurrentCalls    int
	MaxDailyRequests      int
	MaxDailyTransferBytes int64
	MaxAttempts           int
	InitialBackoff        time.Duration
	MaxBackoff            time.Duration
	FailureThreshold      int
	OpenCooldown          time.Duration
}

// DefaultConfig returns the production tuning. Every field is overridable
// through the worker configuration file.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentCalls:    2,
		MaxDailyRequests:      10000,
		MaxDailyTransferBytes: 1 << 30,
		MaxAttempts:           3,
		InitialBackoff:        200 * time.Millisecond,
		MaxBackoff:            5 * time.Second,
		FailureThreshold:      3,
		OpenCooldown:          30 * time.Second,
	}
}

// Params bundles the ports and seams a worker needs. Source and Store are
// required; everything else defaults to the production implementation.
type Params struct {
	Source  Source
	Store   Store
	Metrics JobMetrics
	Clock   Clock
	Logger  *slog.Logger
	Sleep   SleepFunc
	Jitter  JitterFunc
}

// Worker executes enrichment jobs against one Overpass upstream. The quota,
// breaker, and limiter are process-wide: every job issued through the same
// worker shares them.
type Worker struct {
	source  Source
	store   Store
	metrics JobMetrics
	clock   Clock
	log     *slog.Logger

	quota   *RequestQuota
	breaker *CircuitBreaker
	limiter *ConcurrencyLimiter
	retry   RetryPolicy
}

// NewWorker wires a worker from its config and ports.
func NewWorker(cfg Config, p Params) *Worker {
	if p.Metrics == nil {
		p.Metrics = NopJobMetrics{}
	}
	if p.Clock == nil {
		p.Clock = SystemClock{}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Worker{
		source:  p.Source,
		store:   p.Store,
		metrics: p.Metrics,
		clock:   p.Clock,
		log:     p.Logger,
		quota:   NewRequestQuota(p.Clock.Now(), cfg.MaxDailyRequests, cfg.MaxDailyTransferBytes),
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.OpenCooldown),
		limiter: NewConcurrencyLimiter(cfg.MaxConcurrentCalls),
		retry: RetryPolicy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			Sleep:          p.Sleep,
			Jitter:         p.Jitter,
		},
	}
}

// RunJob executes one geofence enrichment job end to end. Admission runs the
// quota first, the breaker second, and the limiter third; the fetch is
// retried while the permit is held; persistence happens in one transaction
// after the permit is returned. The returned error classifies the failure
// for callers mapping outcomes onto transport responses, and always matches
// Outcome.Status.
func (w *Worker) RunJob(ctx context.Context, job Job) (Outcome, error) {
	jobID := uuid.New()
	log := w.log.With("job_id", jobID.String(), "geofence_id", job.GeofenceID)

	now := w.clock.Now()
	if ok, reason := w.quota.TryAcquire(now); !ok {
		w.metrics.ObserveJob(StatusQuotaExceeded)
		log.Warn("enrichment refused by daily quota", "reason", string(reason))
		return Outcome{Status: StatusQuotaExceeded}, &catalog.UnavailableError{
			Op:    "overpass enrichment",
			Cause: fmt.Errorf("daily quota exhausted (%s)", reason),
		}
	}

	if !w.breaker.Allow(now) {
		w.metrics.ObserveJob(StatusCircuitOpen)
		log.Warn("enrichment refused by open circuit breaker")
		return Outcome{Status: StatusCircuitOpen}, &catalog.UnavailableError{
			Op:    "overpass enrichment",
			Cause: errors.New("circuit breaker open"),
		}
	}

	if err := w.limiter.Acquire(ctx); err != nil {
		w.breaker.AbandonProbe()
		return Outcome{}, fmt.Errorf("failed to acquire enrichment call permit: %w", err)
	}

	req := overpass.Request{JobID: jobID, Bounds: job.Bounds, Tags: job.Tags}
	var resp *overpass.Response
	attempts, err := w.retry.Execute(ctx, func(ctx context.Context) error {
		fetched, fetchErr := w.source.Fetch(ctx, req)
		if fetchErr != nil {
			w.breaker.RecordFailure(w.clock.Now())
			return fetchErr
		}
		w.breaker.RecordSuccess(w.clock.Now())
		resp = fetched
		return nil
	})
	w.limiter.Release()
	if err != nil {
		w.metrics.ObserveJob(StatusRetryExhausted)
		log.Warn("enrichment fetch failed", "attempts", attempts, "error", err)
		return Outcome{Status: StatusRetryExhausted, Attempts: attempts}, &catalog.UnavailableError{
			Op:    "overpass enrichment",
			Cause: fmt.Errorf("fetch failed after %d attempts: %w", attempts, err),
		}
	}

	now = w.clock.Now()
	w.quota.RecordTransfer(now, resp.TransferBytes)

	kept := filterCandidates(resp.POIs, job.Bounds)
	prov := catalog.EnrichmentProvenance{
		SourceURL:  resp.SourceURL,
		ImportedAt: now,
		Bounds:     job.Bounds,
	}
	if err := w.store.PersistEnrichment(ctx, prov, kept); err != nil {
		w.metrics.ObserveJob(StatusProvenanceWriteFailed)
		log.Error("enrichment persistence failed", "attempts", attempts, "error", err)
		return Outcome{Status: StatusProvenanceWriteFailed, Attempts: attempts, TransferBytes: resp.TransferBytes},
			&catalog.InternalError{Op: "persist enrichment result", Cause: err}
	}

	w.metrics.ObserveJob(StatusSuccess)
	log.Info("enrichment persisted",
		"attempts", attempts,
		"fetched_poi_count", len(resp.POIs),
		"persisted_poi_count", len(kept),
		"transfer_bytes", resp.TransferBytes)
	return Outcome{
		Status:            StatusSuccess,
		Attempts:          attempts,
		PersistedPOICount: len(kept),
		TransferBytes:     resp.TransferBytes,
	}, nil
}

// filterCandidates drops fetched elements outside the job bounds or without
// catalogue-worthy tags. Upstream scoping is re-checked, not trusted.
func filterCandidates(pois []catalog.PointOfInterest, bounds geo.GeofenceBounds) []catalog.PointOfInterest {
	kept := make([]catalog.PointOfInterest, 0, len(pois))
	for _, poi := range pois {
		if bounds.Contains(poi.Location) && catalog.IsCandidate(poi.Tags) {
			kept = append(kept, poi)
		}
	}
	return kept
}
