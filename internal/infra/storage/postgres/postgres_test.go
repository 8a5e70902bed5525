package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/storage"
)

func TestJobRow_RoundTrip(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := domain.NewJob("id-1", "user-1", "a.mp3", 42, "audio/mpeg", "https://files/a.mp3",
		[]domain.MaterialType{domain.MaterialQuiz, domain.MaterialSummary}, map[string]any{"language": "en"})
	job.TranscriptRef = "tx-1"
	job.StartedAt = &started

	row, err := toJobRow(job)
	if err != nil {
		t.Fatalf("toJobRow: %v", err)
	}
	if !row.TranscriptRef.Valid || !row.StartedAt.Valid || row.CompletedAt.Valid {
		t.Errorf("unexpected nullability %+v", row)
	}
	if len(row.MaterialTypes) != 2 || row.MaterialTypes[0] != "quiz" || row.MaterialTypes[1] != "summary" {
		t.Errorf("unexpected material types %v", row.MaterialTypes)
	}

	back, err := row.toDomain()
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if len(back.MaterialTypes) != 2 || back.MaterialTypes[0] != domain.MaterialSummary {
		t.Errorf("expected canonical order, got %v", back.MaterialTypes)
	}
	if back.TranscriptRef != "tx-1" || back.Options["language"] != "en" || !back.StartedAt.Equal(started) {
		t.Errorf("unexpected job %+v", back)
	}
	if back.CompletedAt != nil {
		t.Error("completed_at should stay nil")
	}
}

func TestJobRow_EmptyRefIsNull(t *testing.T) {
	row, _ := toJobRow(&domain.Job{ID: "x"})
	if row.TranscriptRef.Valid {
		t.Error("empty transcript ref must be stored as NULL so COALESCE can fill it once")
	}
	if string(row.Options) != "{}" {
		t.Errorf("expected empty options object, got %s", row.Options)
	}
}

func TestClassify(t *testing.T) {
	dup := classify(&pgconn.PgError{Code: "23505"}, "create job")
	if !apperr.IsKind(dup, apperr.KindDuplicate) {
		t.Errorf("expected duplicate kind, got %v", dup)
	}
	db := classify(errors.New("connection refused"), "get job")
	if !apperr.IsKind(db, apperr.KindDatabase) {
		t.Errorf("expected database kind, got %v", db)
	}
	if c := classify(context.Canceled, "get job"); !errors.Is(c, context.Canceled) || apperr.KindOf(c) != "" {
		t.Errorf("cancellation should stay unclassified, got %v", c)
	}
	if classify(nil, "x") != nil {
		t.Error("nil should stay nil")
	}
}

// TestRepositories_Integration runs against a real database when
// NOTEABLY_TEST_DATABASE_URL is set.
func TestRepositories_Integration(t *testing.T) {
	url := os.Getenv("NOTEABLY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("NOTEABLY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	jobs := NewJobRepo(db)
	transcripts := NewTranscriptionRepo(db)
	content := NewContentRepo(db)
	subs := NewSubscriptionRepo(db)

	id := uuid.NewString()
	owner := "it-" + uuid.NewString()
	job := domain.NewJob(id, owner, "a.mp3", 1<<20, "audio/mpeg", "https://files/a.mp3",
		[]domain.MaterialType{domain.MaterialSummary}, nil)
	if err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := jobs.Create(ctx, job); !errors.Is(err, storage.ErrDuplicateJob) {
		t.Errorf("expected ErrDuplicateJob, got %v", err)
	}

	job.Status = domain.JobStatusTranscribing
	job.TranscriptRef = "tx-1"
	if err := jobs.Save(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}
	job.TranscriptRef = "tx-2"
	job.Status = domain.JobStatusGenerating
	job.Progress = 50
	created, err := transcripts.RecordTranscript(ctx, job, &domain.Transcription{ExternalRef: "tx-1", Text: "hi", Raw: json.RawMessage(`{"id":"tx-1"}`)})
	if err != nil || !created {
		t.Fatalf("record: %v, created=%v", err, created)
	}
	created, err = transcripts.RecordTranscript(ctx, job, &domain.Transcription{ExternalRef: "tx-1", Text: "again"})
	if err != nil || created {
		t.Fatalf("second record: %v, created=%v", err, created)
	}

	got, err := jobs.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TranscriptRef != "tx-1" || got.Status != domain.JobStatusGenerating {
		t.Errorf("unexpected job %+v", got)
	}
	tr, _ := transcripts.GetByJob(ctx, id)
	if tr.Text != "hi" {
		t.Errorf("transcript overwritten: %q", tr.Text)
	}

	for _, body := range []string{`{"summary":"v1"}`, `{"summary":"v2"}`} {
		if err := content.Upsert(ctx, &domain.GeneratedContent{JobID: id, MaterialType: domain.MaterialSummary, Content: json.RawMessage(body), Model: "m"}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	items, _ := content.ListByJob(ctx, id)
	if len(items) != 1 {
		t.Errorf("expected one item, got %d", len(items))
	}

	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	if err := jobs.Save(ctx, job); err != nil {
		t.Fatalf("complete: %v", err)
	}
	job.Status = domain.JobStatusFailed
	if err := jobs.Save(ctx, job); !errors.Is(err, storage.ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal, got %v", err)
	}

	if err := subs.IncrementUsage(ctx, owner, 3); err != nil {
		t.Fatalf("increment: %v", err)
	}
	s, err := subs.Get(ctx, owner)
	if err != nil || s.UploadsThisMonth != 1 || s.MinutesUsedThisMonth != 3 {
		t.Errorf("unexpected subscription %+v, %v", s, err)
	}
}
