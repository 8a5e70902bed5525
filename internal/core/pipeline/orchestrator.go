// Package pipeline drives a job from upload to generated study materials.
//
// The orchestrator is level-triggered: every Step re-reads the persisted job,
// performs at most one bounded unit of work and reports whether the job needs
// another invocation. Nothing survives in memory between steps, so a process
// restart simply resumes from whatever state was last saved.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/core/retry"
	"github.com/vietddude/noteably/internal/infra/storage"
	"github.com/vietddude/noteably/internal/metrics"
)

// Transcriber is the speech-to-text provider.
type Transcriber interface {
	Submit(ctx context.Context, mediaURL string) (string, error)
	Poll(ctx context.Context, ref string) (*domain.TranscriptResult, error)
}

// Generator produces one material type from a transcript.
type Generator interface {
	Generate(ctx context.Context, text string, t domain.MaterialType) (*domain.GenerationResult, error)
}

// Outcome tells the scheduler what to do after a step.
type Outcome struct {
	// Done is true once the job needs no further invocations.
	Done bool
	// ResumeAfter is the delay before the next invocation when Done is false.
	ResumeAfter time.Duration
}

// GenericFailureMessage is stored on jobs that failed with an unclassified error.
const GenericFailureMessage = "internal error while processing job"

// Config holds orchestrator settings.
type Config struct {
	PollInterval          time.Duration `yaml:"poll_interval"`
	GenerationConcurrency int           `yaml:"generation_concurrency"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	PollInterval:          10 * time.Second,
	GenerationConcurrency: 1,
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Jobs           storage.JobRepository
	Transcriptions storage.TranscriptionRepository
	Content        storage.ContentRepository
	Transcriber    Transcriber
	Generator      Generator
	Retrier        *retry.Retrier
}

// Orchestrator runs job steps.
type Orchestrator struct {
	jobs           storage.JobRepository
	transcriptions storage.TranscriptionRepository
	content        storage.ContentRepository
	transcriber    Transcriber
	generator      Generator
	retrier        *retry.Retrier
	cfg            Config
	log            *slog.Logger

	mu            sync.RWMutex
	stateCallback func(jobID string, t Transition)
}

// NewOrchestrator creates an orchestrator. Zero config values fall back to DefaultConfig.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.GenerationConcurrency <= 0 {
		cfg.GenerationConcurrency = DefaultConfig.GenerationConcurrency
	}
	r := deps.Retrier
	if r == nil {
		r = retry.New(retry.DefaultConfig)
	}
	return &Orchestrator{
		jobs:           deps.Jobs,
		transcriptions: deps.Transcriptions,
		content:        deps.Content,
		transcriber:    deps.Transcriber,
		generator:      deps.Generator,
		retrier:        r,
		cfg:            cfg,
		log:            slog.Default().With("component", "orchestrator"),
	}
}

// SetStateChangeCallback registers a callback invoked after each persisted transition.
func (o *Orchestrator) SetStateChangeCallback(fn func(jobID string, t Transition)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateCallback = fn
}

// PollInterval returns the configured delay between transcription polls.
func (o *Orchestrator) PollInterval() time.Duration {
	return o.cfg.PollInterval
}

// Step performs one bounded unit of work for jobID.
//
// Failures inside the step are recorded on the job and reported as Done. A
// non-nil error means the step could not even record its outcome (or ctx
// ended); the caller should invoke again later.
func (o *Orchestrator) Step(ctx context.Context, jobID string) (Outcome, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if errors.Is(err, storage.ErrJobNotFound) {
		o.log.Warn("Job not found, dropping invocation", "job_id", jobID)
		return Outcome{Done: true}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.IsTerminal() {
		return Outcome{Done: true}, nil
	}

	start := time.Now()
	startStatus := job.Status
	defer func() {
		metrics.StepDuration.WithLabelValues(string(startStatus)).Observe(time.Since(start).Seconds())
	}()

	var transitions []Transition
	out, err := o.advance(ctx, job, &transitions)
	if err == nil {
		o.notify(job.ID, transitions)
		return out, nil
	}
	// Transitions that were already persisted still happened.
	o.notify(job.ID, transitions)

	if errors.Is(err, storage.ErrJobTerminal) {
		o.log.Info("Job reached a terminal state elsewhere, stopping", "job_id", job.ID)
		return Outcome{Done: true}, nil
	}
	if ctx.Err() != nil {
		// Shutting down: leave the job where it is so the next process resumes it.
		return Outcome{}, ctx.Err()
	}
	return o.fail(ctx, job, err)
}

// advance dispatches on the persisted status.
func (o *Orchestrator) advance(ctx context.Context, job *domain.Job, ts *[]Transition) (Outcome, error) {
	switch job.Status {
	case domain.JobStatusQueued, domain.JobStatusTranscribing:
		if job.TranscriptRef == "" {
			return o.submit(ctx, job, ts)
		}
		return o.poll(ctx, job, ts)
	case domain.JobStatusGenerating:
		return o.resumeGeneration(ctx, job, ts)
	default:
		return Outcome{}, fmt.Errorf("unexpected job status %q", job.Status)
	}
}

func (o *Orchestrator) submit(ctx context.Context, job *domain.Job, ts *[]Transition) (Outcome, error) {
	o.log.Info("Submitting job for transcription", "job_id", job.ID)

	attempts := 0
	ref, err := retry.Do(ctx, o.retrier, "transcription.submit", func(ctx context.Context) (string, error) {
		attempts++
		return o.transcriber.Submit(ctx, job.StorageURL)
	})
	job.RetryCount += max(attempts-1, 0)
	if err != nil {
		return Outcome{}, err
	}
	if err := job.AssignTranscriptRef(ref); err != nil {
		return Outcome{}, err
	}

	if job.Status == domain.JobStatusQueued {
		if err := o.transition(job, domain.JobStatusTranscribing, "submitted", ts); err != nil {
			return Outcome{}, err
		}
	}
	if job.StartedAt == nil {
		now := time.Now().UTC()
		job.StartedAt = &now
	}
	if err := o.save(ctx, job, ts); err != nil {
		return Outcome{}, err
	}

	o.log.Info("Transcription submitted", "job_id", job.ID, "transcript_ref", ref)
	return Outcome{ResumeAfter: o.cfg.PollInterval}, nil
}

func (o *Orchestrator) poll(ctx context.Context, job *domain.Job, ts *[]Transition) (Outcome, error) {
	if job.Status == domain.JobStatusQueued {
		if err := o.transition(job, domain.JobStatusTranscribing, "resumed with reference", ts); err != nil {
			return Outcome{}, err
		}
	}

	attempts := 0
	result, err := retry.Do(ctx, o.retrier, "transcription.poll", func(ctx context.Context) (*domain.TranscriptResult, error) {
		attempts++
		return o.transcriber.Poll(ctx, job.TranscriptRef)
	})
	job.RetryCount += max(attempts-1, 0)
	if err != nil {
		return Outcome{}, err
	}

	switch result.Status {
	case domain.TranscriptCompleted:
		o.log.Info("Transcription completed", "job_id", job.ID, "transcript_ref", job.TranscriptRef)
		if err := o.transition(job, domain.JobStatusGenerating, "transcript ready", ts); err != nil {
			return Outcome{}, err
		}
		job.SetProgress(domain.ProgressGenerating)

		created, err := o.transcriptions.RecordTranscript(ctx, job, &domain.Transcription{
			JobID:       job.ID,
			ExternalRef: result.Ref,
			Text:        result.Text,
			Raw:         result.Raw,
		})
		if err != nil {
			o.dropUncommitted(ts)
			return Outcome{}, fmt.Errorf("record transcript: %w", err)
		}
		if !created {
			o.log.Info("Transcript already stored, not duplicating", "job_id", job.ID)
		}
		o.countTransitions(ts)

		stored, err := o.transcriptions.GetByJob(ctx, job.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("load transcript: %w", err)
		}
		return o.generateAndComplete(ctx, job, stored.Text, nil, ts)

	case domain.TranscriptError:
		msg := result.Error
		if msg == "" {
			msg = "transcription failed"
		}
		o.log.Error("Transcription failed", "job_id", job.ID, "error", msg)
		if err := o.markFailed(ctx, job, msg, ts); err != nil {
			return Outcome{}, err
		}
		return Outcome{Done: true}, nil

	default:
		job.SetProgress(domain.ProgressTranscribing)
		if err := o.save(ctx, job, ts); err != nil {
			return Outcome{}, err
		}
		return Outcome{ResumeAfter: o.cfg.PollInterval}, nil
	}
}

// resumeGeneration continues a job that crashed between the transcript write
// and completion. Types that already have content are not regenerated.
func (o *Orchestrator) resumeGeneration(ctx context.Context, job *domain.Job, ts *[]Transition) (Outcome, error) {
	o.log.Info("Resuming generation", "job_id", job.ID)

	stored, err := o.transcriptions.GetByJob(ctx, job.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load transcript: %w", err)
	}
	existing, err := o.content.ListByJob(ctx, job.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("list content: %w", err)
	}
	done := make(map[domain.MaterialType]bool, len(existing))
	for _, c := range existing {
		done[c.MaterialType] = true
	}
	return o.generateAndComplete(ctx, job, stored.Text, done, ts)
}

func (o *Orchestrator) generateAndComplete(ctx context.Context, job *domain.Job, text string, skip map[domain.MaterialType]bool, ts *[]Transition) (Outcome, error) {
	var pending []domain.MaterialType
	for _, t := range job.MaterialTypes {
		if !skip[t] {
			pending = append(pending, t)
		}
	}

	if err := o.generateAll(ctx, job.ID, text, pending); err != nil {
		return Outcome{}, err
	}

	if err := o.transition(job, domain.JobStatusCompleted, "generation finished", ts); err != nil {
		return Outcome{}, err
	}
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.SetProgress(domain.ProgressCompleted)
	if err := o.save(ctx, job, ts); err != nil {
		return Outcome{}, err
	}

	o.log.Info("Job completed", "job_id", job.ID, "material_types", len(job.MaterialTypes))
	return Outcome{Done: true}, nil
}

// generateAll generates each type independently. A failed type is logged and
// skipped; only ctx cancellation aborts the batch.
func (o *Orchestrator) generateAll(ctx context.Context, jobID, text string, types []domain.MaterialType) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.GenerationConcurrency)

	for _, t := range types {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := o.generateOne(gctx, jobID, text, t); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				metrics.GenerationFailures.WithLabelValues(string(t)).Inc()
				o.log.Error("Failed to generate material, skipping",
					"job_id", jobID,
					"material_type", t,
					"error", err,
				)
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) generateOne(ctx context.Context, jobID, text string, t domain.MaterialType) error {
	o.log.Debug("Generating material", "job_id", jobID, "material_type", t)

	res, err := retry.Do(ctx, o.retrier, "generation."+string(t), func(ctx context.Context) (*domain.GenerationResult, error) {
		return o.generator.Generate(ctx, text, t)
	})
	if err != nil {
		return err
	}

	return o.content.Upsert(ctx, &domain.GeneratedContent{
		JobID:        jobID,
		MaterialType: t,
		Content:      res.Content,
		Model:        res.Model,
		TokensUsed:   res.TokensUsed,
	})
}

// fail records cause on the job as a terminal failure. The job is reloaded
// first because the failed step may have left unsaved changes on it.
func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, cause error) (Outcome, error) {
	msg := GenericFailureMessage
	if ae, ok := apperr.As(cause); ok && ae.Message != "" {
		msg = ae.Message
	}
	o.log.Error("Error processing job",
		"job_id", job.ID,
		"status", job.Status,
		"kind", apperr.KindOf(cause),
		"error", cause,
	)

	current, err := o.jobs.Get(ctx, job.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reload job %s to record failure: %w (cause: %v)", job.ID, err, cause)
	}
	if current.IsTerminal() {
		return Outcome{Done: true}, nil
	}
	current.RetryCount = max(current.RetryCount, job.RetryCount)

	var ts []Transition
	err = o.markFailed(ctx, current, msg, &ts)
	o.notify(job.ID, ts)
	if errors.Is(err, storage.ErrJobTerminal) {
		return Outcome{Done: true}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("record failure of job %s: %w (cause: %v)", job.ID, err, cause)
	}
	return Outcome{Done: true}, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, job *domain.Job, msg string, ts *[]Transition) error {
	if err := o.transition(job, domain.JobStatusFailed, msg, ts); err != nil {
		return err
	}
	job.ErrorMessage = msg
	return o.save(ctx, job, ts)
}

// transition moves job to status to in memory. The change is counted once the
// caller persists it.
func (o *Orchestrator) transition(job *domain.Job, to domain.JobStatus, reason string, ts *[]Transition) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}
	*ts = append(*ts, NewTransition(job.Status, to, reason))
	job.Status = to
	job.CurrentStep = StepLabel(to)
	return nil
}

// save persists job and marks pending transitions as committed.
func (o *Orchestrator) save(ctx context.Context, job *domain.Job, ts *[]Transition) error {
	if err := o.jobs.Save(ctx, job); err != nil {
		o.dropUncommitted(ts)
		return err
	}
	o.countTransitions(ts)
	return nil
}

// countTransitions records metrics for transitions not yet counted.
func (o *Orchestrator) countTransitions(ts *[]Transition) {
	for i := range *ts {
		t := &(*ts)[i]
		if t.committed {
			continue
		}
		t.committed = true
		metrics.JobTransitions.WithLabelValues(string(t.From), string(t.To)).Inc()
	}
}

func (o *Orchestrator) dropUncommitted(ts *[]Transition) {
	kept := (*ts)[:0]
	for _, t := range *ts {
		if t.committed {
			kept = append(kept, t)
		}
	}
	*ts = kept
}

func (o *Orchestrator) notify(jobID string, ts []Transition) {
	o.mu.RLock()
	cb := o.stateCallback
	o.mu.RUnlock()
	if cb == nil {
		return
	}
	for _, t := range ts {
		if t.committed {
			cb(jobID, t)
		}
	}
}
