package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// RuntimeConfig tunes the scheduling loop around a worker.
type RuntimeConfig struct {
	// Interval separates enrichment cycles.
	Interval time.Duration
	// JobDeadline bounds one geofence job, queue wait included.
	JobDeadline time.Duration
}

// DefaultRuntimeConfig returns the production scheduling cadence.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Interval:    15 * time.Minute,
		JobDeadline: 5 * time.Minute,
	}
}

// Runtime drives a worker over a fixed set of geofence jobs: one cycle
// immediately on start, then one per interval until the context ends.
type Runtime struct {
	worker *Worker
	jobs   []Job
	cfg    RuntimeConfig
	log    *slog.Logger
}

// NewRuntime builds a runtime. Non-positive config fields and a nil logger
// fall back to defaults.
func NewRuntime(worker *Worker, jobs []Job, cfg RuntimeConfig, log *slog.Logger) *Runtime {
	defaults := DefaultRuntimeConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.JobDeadline <= 0 {
		cfg.JobDeadline = defaults.JobDeadline
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{worker: worker, jobs: jobs, cfg: cfg, log: log}
}

// Run blocks until ctx ends and returns ctx's error.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Info("enrichment runtime started",
		"geofence_count", len(r.jobs),
		"interval", r.cfg.Interval.String(),
		"job_deadline", r.cfg.JobDeadline.String())

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.runCycle(ctx)
		select {
		case <-ctx.Done():
			r.log.Info("enrichment runtime stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle fans one job per geofence out onto its own goroutine, each under
// its own deadline, and waits for all of them before returning.
func (r *Runtime) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	var group errgroup.Group
	for _, job := range r.jobs {
		group.Go(func() error {
			jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobDeadline)
			defer cancel()

			if _, err := r.worker.RunJob(jobCtx, job); err != nil {
				return fmt.Errorf("geofence %s: %w", job.GeofenceID, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		r.log.Warn("enrichment cycle finished with failures", "error", err)
	}
}
