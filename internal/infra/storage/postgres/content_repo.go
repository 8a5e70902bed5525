package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/vietddude/noteably/internal/core/domain"
)

type contentRow struct {
	JobID        string        `db:"job_id"`
	MaterialType string        `db:"material_type"`
	Content      []byte        `db:"content"`
	Model        string        `db:"model"`
	TokensUsed   sql.NullInt64 `db:"tokens_used"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

// ContentRepo implements storage.ContentRepository using PostgreSQL.
type ContentRepo struct {
	db *DB
}

// NewContentRepo creates a new PostgreSQL content repository.
func NewContentRepo(db *DB) *ContentRepo {
	return &ContentRepo{db: db}
}

// Upsert inserts or replaces the content for (job, material type).
func (r *ContentRepo) Upsert(ctx context.Context, c *domain.GeneratedContent) error {
	var tokens sql.NullInt64
	if c.TokensUsed != nil {
		tokens = sql.NullInt64{Int64: int64(*c.TokensUsed), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO generated_content (job_id, material_type, content, model, tokens_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (job_id, material_type) DO UPDATE SET
			content = EXCLUDED.content,
			model = EXCLUDED.model,
			tokens_used = EXCLUDED.tokens_used,
			updated_at = NOW()
	`, c.JobID, string(c.MaterialType), []byte(c.Content), c.Model, tokens)
	if err != nil {
		return classify(err, "upsert generated content")
	}
	return nil
}

// ListByJob returns all generated content of a job.
func (r *ContentRepo) ListByJob(ctx context.Context, jobID string) ([]*domain.GeneratedContent, error) {
	var rows []contentRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT job_id, material_type, content, model, tokens_used, created_at, updated_at
		FROM generated_content WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, classify(err, "list generated content")
	}

	out := make([]*domain.GeneratedContent, 0, len(rows))
	for _, row := range rows {
		c := &domain.GeneratedContent{
			JobID:        row.JobID,
			MaterialType: domain.MaterialType(row.MaterialType),
			Content:      json.RawMessage(row.Content),
			Model:        row.Model,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		}
		if row.TokensUsed.Valid {
			n := int(row.TokensUsed.Int64)
			c.TokensUsed = &n
		}
		out = append(out, c)
	}
	return out, nil
}
