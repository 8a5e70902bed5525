package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/storage"
)

// Scheduler enqueues job invocations.
type Scheduler interface {
	InvokeNow(ctx context.Context, jobID string) error
	InvokeAfter(ctx context.Context, jobID string, d time.Duration) error
}

// Reconciler re-enqueues every non-terminal job, at startup and periodically,
// so a lost queue entry never strands a job.
type Reconciler struct {
	jobs         storage.JobRepository
	scheduler    Scheduler
	pollInterval time.Duration
	interval     time.Duration
	log          *slog.Logger
}

// NewReconciler creates a new Reconciler worker.
func NewReconciler(jobs storage.JobRepository, scheduler Scheduler, pollInterval, interval time.Duration) *Reconciler {
	return &Reconciler{
		jobs:         jobs,
		scheduler:    scheduler,
		pollInterval: pollInterval,
		interval:     interval,
		log:          slog.Default().With("component", "reconciler"),
	}
}

// Start runs the reconcile loop. A non-positive interval reconciles once.
func (r *Reconciler) Start(ctx context.Context) {
	// Initial sweep
	if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
		r.log.Error("Reconcile failed", "error", err)
	}
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("Reconcile failed", "error", err)
			}
		}
	}
}

// Reconcile enqueues all non-terminal jobs and returns how many it enqueued.
// Jobs waiting on the transcription provider are scheduled one poll interval
// out; everything else runs now.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	jobs, err := r.jobs.ListByStatus(ctx,
		domain.JobStatusQueued,
		domain.JobStatusTranscribing,
		domain.JobStatusGenerating,
	)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, job := range jobs {
		var err error
		if job.Status == domain.JobStatusTranscribing && job.TranscriptRef != "" {
			err = r.scheduler.InvokeAfter(ctx, job.ID, r.pollInterval)
		} else {
			err = r.scheduler.InvokeNow(ctx, job.ID)
		}
		if err != nil {
			r.log.Warn("Failed to enqueue job", "job_id", job.ID, "status", job.Status, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		r.log.Info("Re-enqueued unfinished jobs", "count", n)
	}
	return n, nil
}
