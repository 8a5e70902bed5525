// Package ingest admits uploads: it validates the file, applies the quota
// gate, stores the media, creates the queued job and wakes the pipeline.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/core/retry"
	"github.com/vietddude/noteably/internal/infra/storage"
	"github.com/vietddude/noteably/internal/metrics"
)

// Uploader stores media and returns its key and a URL the transcription
// provider can fetch.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, r io.Reader, size int64) (key, url string, err error)
	Delete(ctx context.Context, key string) error
}

type storedObject struct {
	key string
	url string
}

// Scheduler wakes the pipeline for a new job.
type Scheduler interface {
	InvokeNow(ctx context.Context, jobID string) error
}

// Config holds admission settings.
type Config struct {
	MaxFileSizeMB float64 `yaml:"max_file_size_mb"`
}

const deleteTimeout = 10 * time.Second

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{MaxFileSizeMB: 100}

// Upload is one admission request.
type Upload struct {
	OwnerID       string
	Filename      string
	ContentType   string
	Size          int64
	Body          io.ReadSeeker
	MaterialTypes []domain.MaterialType
	Options       map[string]any
}

// Result is returned for an admitted upload.
type Result struct {
	Job              *domain.Job
	EstimatedSeconds int
}

// Service admits uploads.
type Service struct {
	jobs      storage.JobRepository
	quota     *QuotaGate
	uploader  Uploader
	scheduler Scheduler
	retrier   *retry.Retrier
	cfg       Config
	log       *slog.Logger
	newID     func() string
}

// NewService creates an admission service.
func NewService(
	jobs storage.JobRepository,
	quota *QuotaGate,
	uploader Uploader,
	scheduler Scheduler,
	retrier *retry.Retrier,
	cfg Config,
) *Service {
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = DefaultConfig.MaxFileSizeMB
	}
	if retrier == nil {
		retrier = retry.New(retry.DefaultConfig)
	}
	return &Service{
		jobs:      jobs,
		quota:     quota,
		uploader:  uploader,
		scheduler: scheduler,
		retrier:   retrier,
		cfg:       cfg,
		log:       slog.Default().With("component", "ingest"),
		newID:     uuid.NewString,
	}
}

// Submit admits up. Validation and quota failures create no job.
func (s *Service) Submit(ctx context.Context, up Upload) (*Result, error) {
	res, err := s.submit(ctx, up)
	if err != nil {
		kind := string(apperr.KindOf(err))
		if kind == "" {
			kind = "internal"
		}
		metrics.JobsRejected.WithLabelValues(kind).Inc()
		return nil, err
	}
	metrics.JobsCreated.Inc()
	return res, nil
}

func (s *Service) submit(ctx context.Context, up Upload) (*Result, error) {
	if up.OwnerID == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, "Authentication required")
	}
	types := domain.NormalizeMaterialTypes(up.MaterialTypes)
	if len(types) == 0 {
		return nil, apperr.New(apperr.KindInvalidFile, "Must select at least one material type")
	}
	if err := ValidateFile(up.Filename, up.Size, s.cfg.MaxFileSizeMB); err != nil {
		return nil, err
	}

	minutes := EstimateMinutes(up.Size)
	if err := s.quota.Check(ctx, up.OwnerID, minutes, SizeMB(up.Size)); err != nil {
		return nil, err
	}

	obj, err := retry.Do(ctx, s.retrier, "storage.upload", func(ctx context.Context) (storedObject, error) {
		if _, err := up.Body.Seek(0, io.SeekStart); err != nil {
			return storedObject{}, apperr.Wrap(apperr.KindInvalidFile, err, "could not read uploaded file")
		}
		key, u, err := s.uploader.Upload(ctx, up.Filename, up.ContentType, up.Body, up.Size)
		return storedObject{key: key, url: u}, err
	})
	if err != nil {
		return nil, err
	}

	job := domain.NewJob(s.newID(), up.OwnerID, up.Filename, up.Size, up.ContentType, obj.url, types, up.Options)
	if err := s.jobs.Create(ctx, job); err != nil {
		s.discardObject(ctx, obj.key)
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Info("Job created",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"filename", job.Filename,
		"material_types", domain.MaterialTypeStrings(types),
	)

	// A job whose wake-up is lost is picked up by the reconciler.
	if err := s.scheduler.InvokeNow(ctx, job.ID); err != nil {
		s.log.Warn("Failed to enqueue job", "job_id", job.ID, "error", err)
	}
	if err := s.quota.RecordUsage(ctx, up.OwnerID, minutes); err != nil {
		s.log.Error("Failed to record usage", "owner_id", up.OwnerID, "error", err)
	}

	return &Result{Job: job, EstimatedSeconds: EstimateProcessingSeconds(up.Size)}, nil
}

// discardObject removes media stored for a job that was never created.
func (s *Service) discardObject(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	if err := s.uploader.Delete(ctx, key); err != nil {
		s.log.Error("Failed to delete orphaned object", "key", key, "error", err)
		return
	}
	s.log.Info("Deleted orphaned object", "key", key)
}
