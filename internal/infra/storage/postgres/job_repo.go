package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/storage"
)

const jobColumns = `id, owner_id, filename, size_bytes, content_type, storage_url, material_types,
	options, status, progress, current_step, transcript_ref, error_message, retry_count,
	created_at, started_at, completed_at, updated_at`

type jobRow struct {
	ID            string         `db:"id"`
	OwnerID       string         `db:"owner_id"`
	Filename      string         `db:"filename"`
	SizeBytes     int64          `db:"size_bytes"`
	ContentType   string         `db:"content_type"`
	StorageURL    string         `db:"storage_url"`
	MaterialTypes pq.StringArray `db:"material_types"`
	Options       []byte         `db:"options"`
	Status        string         `db:"status"`
	Progress      int            `db:"progress"`
	CurrentStep   string         `db:"current_step"`
	TranscriptRef sql.NullString `db:"transcript_ref"`
	ErrorMessage  string         `db:"error_message"`
	RetryCount    int            `db:"retry_count"`
	CreatedAt     time.Time      `db:"created_at"`
	StartedAt     sql.NullTime   `db:"started_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func toJobRow(j *domain.Job) (*jobRow, error) {
	opts := []byte("{}")
	if len(j.Options) > 0 {
		b, err := json.Marshal(j.Options)
		if err != nil {
			return nil, fmt.Errorf("encode options: %w", err)
		}
		opts = b
	}
	row := &jobRow{
		ID:            j.ID,
		OwnerID:       j.OwnerID,
		Filename:      j.Filename,
		SizeBytes:     j.SizeBytes,
		ContentType:   j.ContentType,
		StorageURL:    j.StorageURL,
		MaterialTypes: pq.StringArray(domain.MaterialTypeStrings(j.MaterialTypes)),
		Options:       opts,
		Status:        string(j.Status),
		Progress:      j.Progress,
		CurrentStep:   j.CurrentStep,
		TranscriptRef: sql.NullString{String: j.TranscriptRef, Valid: j.TranscriptRef != ""},
		ErrorMessage:  j.ErrorMessage,
		RetryCount:    j.RetryCount,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
	if j.StartedAt != nil {
		row.StartedAt = sql.NullTime{Time: *j.StartedAt, Valid: true}
	}
	if j.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *j.CompletedAt, Valid: true}
	}
	return row, nil
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	j := &domain.Job{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Filename:      r.Filename,
		SizeBytes:     r.SizeBytes,
		ContentType:   r.ContentType,
		StorageURL:    r.StorageURL,
		Status:        domain.JobStatus(r.Status),
		Progress:      r.Progress,
		CurrentStep:   r.CurrentStep,
		TranscriptRef: r.TranscriptRef.String,
		ErrorMessage:  r.ErrorMessage,
		RetryCount:    r.RetryCount,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	types := make([]domain.MaterialType, len(r.MaterialTypes))
	for i, t := range r.MaterialTypes {
		types[i] = domain.MaterialType(t)
	}
	j.MaterialTypes = domain.NormalizeMaterialTypes(types)
	if len(r.Options) > 0 {
		if err := json.Unmarshal(r.Options, &j.Options); err != nil {
			return nil, fmt.Errorf("decode options of job %s: %w", r.ID, err)
		}
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		j.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

// Create inserts a new job.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	row, err := toJobRow(job)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (:id, :owner_id, :filename, :size_bytes, :content_type, :storage_url, :material_types,
			:options, :status, :progress, :current_step, :transcript_ref, :error_message, :retry_count,
			:created_at, :started_at, :completed_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		err = classify(err, "create job")
		if apperr.IsKind(err, apperr.KindDuplicate) {
			return storage.ErrDuplicateJob
		}
		return err
	}
	return nil
}

// Get retrieves a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	return getJob(ctx, r.db, id)
}

func getJob(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Job, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, classify(err, "get job")
	}
	return row.toDomain()
}

// Save persists the mutable fields of job unless the stored job is terminal.
// The transcription reference is write-once.
func (r *JobRepo) Save(ctx context.Context, job *domain.Job) error {
	return saveJob(ctx, r.db, job)
}

func saveJob(ctx context.Context, q sqlx.ExtContext, job *domain.Job) error {
	row, err := toJobRow(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs SET
			status = $2,
			progress = GREATEST(progress, $3),
			current_step = $4,
			transcript_ref = COALESCE(transcript_ref, $5),
			error_message = $6,
			retry_count = $7,
			started_at = $8,
			completed_at = $9,
			updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
		RETURNING updated_at
	`
	var updatedAt time.Time
	err = sqlx.GetContext(ctx, q, &updatedAt, query,
		row.ID, row.Status, row.Progress, row.CurrentStep, row.TranscriptRef,
		row.ErrorMessage, row.RetryCount, row.StartedAt, row.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Either missing or terminal; tell them apart.
		var status string
		serr := sqlx.GetContext(ctx, q, &status, `SELECT status FROM jobs WHERE id = $1`, job.ID)
		if errors.Is(serr, sql.ErrNoRows) {
			return storage.ErrJobNotFound
		}
		if serr != nil {
			return classify(serr, "check job status")
		}
		return storage.ErrJobTerminal
	}
	if err != nil {
		return classify(err, "save job")
	}
	job.UpdatedAt = updatedAt
	return nil
}

// ListByOwner returns an owner's jobs, newest first.
func (r *JobRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []jobRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, classify(err, "list jobs by owner")
	}
	return toJobs(rows)
}

// ListByStatus returns jobs in any of the given statuses, oldest first.
func (r *JobRepo) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query, args, err := sqlx.In(`SELECT `+jobColumns+` FROM jobs WHERE status IN (?) ORDER BY created_at ASC`, names)
	if err != nil {
		return nil, fmt.Errorf("build status query: %w", err)
	}
	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, classify(err, "list jobs by status")
	}
	return toJobs(rows)
}

// CountByStatus returns the number of jobs per status.
func (r *JobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		return nil, classify(err, "count jobs")
	}
	counts := make(map[domain.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.JobStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func toJobs(rows []jobRow) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
