package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/storage"
)

type transcriptionRow struct {
	JobID       string    `db:"job_id"`
	ExternalRef string    `db:"external_ref"`
	Text        string    `db:"text"`
	Raw         []byte    `db:"raw"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// TranscriptionRepo implements storage.TranscriptionRepository using PostgreSQL.
type TranscriptionRepo struct {
	db *DB
}

// NewTranscriptionRepo creates a new PostgreSQL transcription repository.
func NewTranscriptionRepo(db *DB) *TranscriptionRepo {
	return &TranscriptionRepo{db: db}
}

// GetByJob retrieves the transcript of a job.
func (r *TranscriptionRepo) GetByJob(ctx context.Context, jobID string) (*domain.Transcription, error) {
	var row transcriptionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT job_id, external_ref, text, raw, created_at, updated_at FROM transcriptions WHERE job_id = $1`,
		jobID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTranscriptionNotFound
	}
	if err != nil {
		return nil, classify(err, "get transcription")
	}
	return &domain.Transcription{
		JobID:       row.JobID,
		ExternalRef: row.ExternalRef,
		Text:        row.Text,
		Raw:         json.RawMessage(row.Raw),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

// RecordTranscript inserts the transcript if absent and saves the job in one
// transaction. The job row is locked first so concurrent deliveries serialize.
func (r *TranscriptionRepo) RecordTranscript(ctx context.Context, job *domain.Job, t *domain.Transcription) (bool, error) {
	var created bool
	err := r.db.Do(ctx, func(u *UnitOfWork) error {
		var status string
		err := u.Tx().GetContext(ctx, &status, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, job.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrJobNotFound
		}
		if err != nil {
			return classify(err, "lock job")
		}
		if domain.JobStatus(status).IsTerminal() {
			return storage.ErrJobTerminal
		}

		var raw any
		if len(t.Raw) > 0 {
			raw = []byte(t.Raw)
		}
		res, err := u.Tx().ExecContext(ctx, `
			INSERT INTO transcriptions (job_id, external_ref, text, raw, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			ON CONFLICT (job_id) DO NOTHING
		`, job.ID, t.ExternalRef, t.Text, raw)
		if err != nil {
			return classify(err, "insert transcription")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify(err, "insert transcription")
		}
		created = n == 1

		return saveJob(ctx, u.Tx(), job)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}
