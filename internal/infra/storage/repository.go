package storage

import (
	"context"
	"errors"

	"github.com/vietddude/noteably/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a job doesn't exist
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when a write targets a job that already
	// completed or failed. The stored row is left untouched.
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrTranscriptionNotFound is returned when a job has no stored transcript
	ErrTranscriptionNotFound = errors.New("transcription not found")

	// ErrSubscriptionNotFound is returned when an owner has no stored subscription
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrDuplicateJob is returned when creating a job whose id already exists
	ErrDuplicateJob = errors.New("job already exists")
)

// JobRepository handles job storage operations
type JobRepository interface {
	// Create inserts a new job
	Create(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by id
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Save persists all mutable fields of job in one write. It fails with
	// ErrJobTerminal if the stored job is already terminal.
	Save(ctx context.Context, job *domain.Job) error

	// ListByOwner returns an owner's jobs, newest first
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Job, error)

	// ListByStatus returns jobs in any of the given statuses, oldest first
	ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error)

	// CountByStatus returns the number of jobs per status
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}

// TranscriptionRepository handles transcript storage operations
type TranscriptionRepository interface {
	// GetByJob retrieves the transcript of a job
	GetByJob(ctx context.Context, jobID string) (*domain.Transcription, error)

	// RecordTranscript inserts t if the job has no transcript yet and saves job,
	// both in one atomic write. created is false when a transcript already
	// existed; the job is saved either way.
	RecordTranscript(ctx context.Context, job *domain.Job, t *domain.Transcription) (created bool, err error)
}

// ContentRepository handles generated content storage operations
type ContentRepository interface {
	// Upsert inserts or replaces the content for (job, material type)
	Upsert(ctx context.Context, content *domain.GeneratedContent) error

	// ListByJob returns all generated content of a job
	ListByJob(ctx context.Context, jobID string) ([]*domain.GeneratedContent, error)
}

// SubscriptionRepository handles subscription limits and usage
type SubscriptionRepository interface {
	// Get retrieves an owner's subscription
	Get(ctx context.Context, ownerID string) (*domain.Subscription, error)

	// IncrementUsage adds one upload and minutes to the owner's monthly usage,
	// creating a default subscription if none exists
	IncrementUsage(ctx context.Context, ownerID string, minutes float64) error
}
