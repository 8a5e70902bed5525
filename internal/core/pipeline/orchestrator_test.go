package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/core/retry"
	"github.com/vietddude/noteably/internal/infra/storage"
	"github.com/vietddude/noteably/internal/infra/storage/memory"
)

// =============================================================================
// Mocks
// =============================================================================

type mockTranscriber struct {
	mu          sync.Mutex
	ref         string
	submitErrs  []error
	pollResults []*domain.TranscriptResult
	pollErrs    []error
	submits     int
	polls       int
}

func (m *mockTranscriber) Submit(ctx context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
	if len(m.submitErrs) > 0 {
		err := m.submitErrs[0]
		m.submitErrs = m.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return m.ref, nil
}

func (m *mockTranscriber) Poll(ctx context.Context, ref string) (*domain.TranscriptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
	if len(m.pollErrs) > 0 {
		err := m.pollErrs[0]
		m.pollErrs = m.pollErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(m.pollResults) == 0 {
		return &domain.TranscriptResult{Ref: ref, Status: domain.TranscriptProcessing}, nil
	}
	r := m.pollResults[0]
	if len(m.pollResults) > 1 {
		m.pollResults = m.pollResults[1:]
	}
	return r, nil
}

func (m *mockTranscriber) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits, m.polls
}

type mockGenerator struct {
	mu    sync.Mutex
	errs  map[domain.MaterialType]error
	hook  func(t domain.MaterialType)
	calls map[domain.MaterialType]int
}

func newMockGenerator() *mockGenerator {
	return &mockGenerator{
		errs:  make(map[domain.MaterialType]error),
		calls: make(map[domain.MaterialType]int),
	}
}

func (m *mockGenerator) Generate(ctx context.Context, text string, t domain.MaterialType) (*domain.GenerationResult, error) {
	m.mu.Lock()
	m.calls[t]++
	err := m.errs[t]
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(t)
	}
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &domain.GenerationResult{
		Content: json.RawMessage(fmt.Sprintf(`{"type":%q,"source":%q}`, t, text)),
		Model:   "test-model",
	}, nil
}

func (m *mockGenerator) callCount(t domain.MaterialType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[t]
}

func (m *mockGenerator) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// countingTranscripts records how many transcripts were actually created.
type countingTranscripts struct {
	storage.TranscriptionRepository
	mu      sync.Mutex
	created int
}

func (c *countingTranscripts) RecordTranscript(ctx context.Context, job *domain.Job, t *domain.Transcription) (bool, error) {
	created, err := c.TranscriptionRepository.RecordTranscript(ctx, job, t)
	if created {
		c.mu.Lock()
		c.created++
		c.mu.Unlock()
	}
	return created, err
}

// flakyJobs fails Get a fixed number of times.
type flakyJobs struct {
	storage.JobRepository
	getErrs int
}

func (f *flakyJobs) Get(ctx context.Context, id string) (*domain.Job, error) {
	if f.getErrs > 0 {
		f.getErrs--
		return nil, apperr.New(apperr.KindDatabase, "connection refused")
	}
	return f.JobRepository.Get(ctx, id)
}

type harness struct {
	store       *memory.MemoryStorage
	jobs        *memory.JobRepo
	transcripts *countingTranscripts
	content     *memory.ContentRepo
	tx          *mockTranscriber
	gen         *mockGenerator
	orch        *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewMemoryStorage()
	h := &harness{
		store:       store,
		jobs:        memory.NewJobRepo(store),
		transcripts: &countingTranscripts{TranscriptionRepository: memory.NewTranscriptionRepo(store)},
		content:     memory.NewContentRepo(store),
		tx:          &mockTranscriber{ref: "tx-123"},
		gen:         newMockGenerator(),
	}
	h.orch = h.build(h.jobs)
	return h
}

func (h *harness) build(jobs storage.JobRepository) *Orchestrator {
	r := retry.New(retry.Config{MaxAttempts: 3})
	r.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return NewOrchestrator(Deps{
		Jobs:           jobs,
		Transcriptions: h.transcripts,
		Content:        h.content,
		Transcriber:    h.tx,
		Generator:      h.gen,
		Retrier:        r,
	}, Config{PollInterval: 10 * time.Second, GenerationConcurrency: 2})
}

func (h *harness) createJob(t *testing.T, types ...domain.MaterialType) *domain.Job {
	t.Helper()
	job := domain.NewJob("job-1", "user-1", "lecture.mp3", 3<<20, "audio/mpeg", "https://files/job-1/lecture.mp3", types, nil)
	if err := h.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func (h *harness) job(t *testing.T) *domain.Job {
	t.Helper()
	j, err := h.jobs.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

func completed(text string) *domain.TranscriptResult {
	return &domain.TranscriptResult{
		Ref:    "tx-123",
		Status: domain.TranscriptCompleted,
		Text:   text,
		Raw:    json.RawMessage(`{"id":"tx-123","status":"completed"}`),
	}
}

// =============================================================================
// State machine
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.JobStatus
		want     bool
	}{
		{domain.JobStatusQueued, domain.JobStatusTranscribing, true},
		{domain.JobStatusTranscribing, domain.JobStatusGenerating, true},
		{domain.JobStatusGenerating, domain.JobStatusCompleted, true},
		{domain.JobStatusQueued, domain.JobStatusFailed, true},
		{domain.JobStatusTranscribing, domain.JobStatusFailed, true},
		{domain.JobStatusGenerating, domain.JobStatusFailed, true},
		{domain.JobStatusQueued, domain.JobStatusGenerating, false},
		{domain.JobStatusGenerating, domain.JobStatusTranscribing, false},
		{domain.JobStatusCompleted, domain.JobStatusFailed, false},
		{domain.JobStatusFailed, domain.JobStatusQueued, false},
		{domain.JobStatusCompleted, domain.JobStatusGenerating, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
		if NewTransition(tt.from, tt.to, "test").IsValid() != tt.want {
			t.Errorf("Transition{%s -> %s}.IsValid() mismatch", tt.from, tt.to)
		}
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

func TestStep_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createJob(t, domain.MaterialSummary, domain.MaterialQuiz)
	h.tx.pollResults = []*domain.TranscriptResult{
		{Ref: "tx-123", Status: domain.TranscriptProcessing},
		completed("hello world"),
	}

	var mu sync.Mutex
	var seen []Transition
	h.orch.SetStateChangeCallback(func(jobID string, tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	})

	// Step 1: submit
	out, err := h.orch.Step(ctx, "job-1")
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if out.Done || out.ResumeAfter != 10*time.Second {
		t.Errorf("step 1: unexpected outcome %+v", out)
	}
	j := h.job(t)
	if j.Status != domain.JobStatusTranscribing || j.TranscriptRef != "tx-123" || j.StartedAt == nil {
		t.Errorf("step 1: unexpected job %+v", j)
	}

	// Step 2: still processing
	out, err = h.orch.Step(ctx, "job-1")
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if out.Done || out.ResumeAfter != 10*time.Second {
		t.Errorf("step 2: unexpected outcome %+v", out)
	}
	if j := h.job(t); j.Status != domain.JobStatusTranscribing || j.Progress != 25 {
		t.Errorf("step 2: expected transcribing/25, got %s/%d", j.Status, j.Progress)
	}

	// Step 3: completed, generate, finish
	out, err = h.orch.Step(ctx, "job-1")
	if err != nil {
		t.Fatalf("step 3: %v", err)
	}
	if !out.Done {
		t.Errorf("step 3: expected done, got %+v", out)
	}
	j = h.job(t)
	if j.Status != domain.JobStatusCompleted || j.Progress != 100 || j.CompletedAt == nil {
		t.Errorf("step 3: unexpected job %s/%d", j.Status, j.Progress)
	}
	if h.transcripts.created != 1 {
		t.Errorf("expected 1 transcript, got %d", h.transcripts.created)
	}
	items, _ := h.content.ListByJob(ctx, "job-1")
	if len(items) != 2 {
		t.Fatalf("expected 2 content items, got %d", len(items))
	}
	for _, it := range items {
		if it.Model != "test-model" {
			t.Errorf("unexpected model %q", it.Model)
		}
	}

	// A late duplicate invocation is a no-op.
	submits, polls := h.tx.calls()
	gens := h.gen.totalCalls()
	out, err = h.orch.Step(ctx, "job-1")
	if err != nil || !out.Done {
		t.Errorf("late step: %+v, %v", out, err)
	}
	s2, p2 := h.tx.calls()
	if s2 != submits || p2 != polls || h.gen.totalCalls() != gens {
		t.Error("late step made external calls")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []domain.JobStatus{domain.JobStatusTranscribing, domain.JobStatusGenerating, domain.JobStatusCompleted}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(seen))
	}
	for i, tr := range seen {
		if tr.To != want[i] {
			t.Errorf("transition %d: to %s, want %s", i, tr.To, want[i])
		}
	}
}

func TestStep_TerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.createJob(t, domain.MaterialSummary)
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = "earlier failure"
	_ = h.jobs.Save(ctx, job)
	before := h.job(t)

	out, err := h.orch.Step(ctx, "job-1")
	if err != nil || !out.Done {
		t.Fatalf("unexpected outcome %+v, %v", out, err)
	}
	s, p := h.tx.calls()
	if s != 0 || p != 0 || h.gen.totalCalls() != 0 {
		t.Error("terminal job triggered external calls")
	}
	after := h.job(t)
	if after.UpdatedAt != before.UpdatedAt || after.ErrorMessage != "earlier failure" {
		t.Error("terminal job was modified")
	}
}

func TestStep_JobNotFound(t *testing.T) {
	h := newHarness(t)
	out, err := h.orch.Step(context.Background(), "nope")
	if err != nil || !out.Done {
		t.Errorf("expected done without error, got %+v, %v", out, err)
	}
}

func TestStep_TransientLoadErrorIsReturned(t *testing.T) {
	h := newHarness(t)
	h.createJob(t, domain.MaterialSummary)
	orch := h.build(&flakyJobs{JobRepository: h.jobs, getErrs: 1})

	_, err := orch.Step(context.Background(), "job-1")
	if !apperr.IsKind(err, apperr.KindDatabase) {
		t.Fatalf("expected database error, got %v", err)
	}
	if j := h.job(t); j.Status != domain.JobStatusQueued {
		t.Errorf("job should be untouched, got %s", j.Status)
	}
}

func TestStep_DuplicateCompletedDelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.createJob(t, domain.MaterialNotes)
	job.Status = domain.JobStatusTranscribing
	job.TranscriptRef = "tx-123"
	_ = h.jobs.Save(ctx, job)
	h.tx.pollResults = []*domain.TranscriptResult{completed("text")}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.orch.Step(ctx, "job-1"); err != nil {
				t.Errorf("step: %v", err)
			}
		}()
	}
	wg.Wait()

	if h.transcripts.created != 1 {
		t.Errorf("expected exactly one transcript, got %d", h.transcripts.created)
	}
	if j := h.job(t); j.Status != domain.JobStatusCompleted {
		t.Errorf("expected completed, got %s", j.Status)
	}
	items, _ := h.content.ListByJob(ctx, "job-1")
	if len(items) != 1 {
		t.Errorf("expected one notes item, got %d", len(items))
	}
}

func TestStep_ResumeAfterCrashDuringGeneration(t *testing.T) {
	h := newHarness(t)
	h.createJob(t, domain.MaterialSummary, domain.MaterialNotes, domain.MaterialQuiz)
	h.tx.pollResults = []*domain.TranscriptResult{completed("lecture text")}

	// Submit.
	if _, err := h.orch.Step(context.Background(), "job-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The process dies while generating notes: summary is stored, notes and quiz are not.
	ctx, cancel := context.WithCancel(context.Background())
	h.orch.cfg.GenerationConcurrency = 1
	h.gen.hook = func(mt domain.MaterialType) {
		if mt == domain.MaterialNotes {
			cancel()
		}
	}
	if _, err := h.orch.Step(ctx, "job-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if j := h.job(t); j.Status != domain.JobStatusGenerating || j.Progress != 50 {
		t.Fatalf("expected generating/50 after crash, got %s/%d", j.Status, j.Progress)
	}

	// Restart.
	h.gen.hook = nil
	out, err := h.orch.Step(context.Background(), "job-1")
	if err != nil || !out.Done {
		t.Fatalf("resume: %+v, %v", out, err)
	}

	if h.transcripts.created != 1 {
		t.Errorf("expected one transcript, got %d", h.transcripts.created)
	}
	if n := h.gen.callCount(domain.MaterialSummary); n != 1 {
		t.Errorf("summary regenerated: %d calls", n)
	}
	if n := h.gen.callCount(domain.MaterialQuiz); n != 1 {
		t.Errorf("expected quiz generated once, got %d", n)
	}
	items, _ := h.content.ListByJob(context.Background(), "job-1")
	if len(items) != 3 {
		t.Errorf("expected 3 items, got %d", len(items))
	}
	if j := h.job(t); j.Status != domain.JobStatusCompleted {
		t.Errorf("expected completed, got %s", j.Status)
	}
}

func TestStep_PartialGenerationFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createJob(t, domain.MaterialSummary, domain.MaterialQuiz, domain.MaterialFlashcards)
	h.tx.pollResults = []*domain.TranscriptResult{completed("text")}
	h.gen.errs[domain.MaterialQuiz] = apperr.New(apperr.KindSafetyFilter, "blocked")
	h.gen.errs[domain.MaterialFlashcards] = apperr.New(apperr.KindMalformedOutput, "not json")

	_, _ = h.orch.Step(ctx, "job-1")
	out, err := h.orch.Step(ctx, "job-1")
	if err != nil || !out.Done {
		t.Fatalf("unexpected outcome %+v, %v", out, err)
	}

	j := h.job(t)
	if j.Status != domain.JobStatusCompleted || j.Progress != 100 {
		t.Errorf("expected completed/100, got %s/%d", j.Status, j.Progress)
	}
	items, _ := h.content.ListByJob(ctx, "job-1")
	if len(items) != 1 || items[0].MaterialType != domain.MaterialSummary {
		t.Errorf("expected only summary, got %+v", items)
	}
	if n := h.gen.callCount(domain.MaterialQuiz); n != 1 {
		t.Errorf("non-retryable quiz failure retried: %d calls", n)
	}
	if n := h.gen.callCount(domain.MaterialFlashcards); n != 2 {
		t.Errorf("malformed output should be tried twice, got %d", n)
	}
}

func TestStep_TranscriptionProviderError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.createJob(t, domain.MaterialSummary)
	h.tx.pollResults = []*domain.TranscriptResult{{Ref: "tx-123", Status: domain.TranscriptError, Error: "audio is silent"}}

	_, _ = h.orch.Step(ctx, "job-1")
	out, err := h.orch.Step(ctx, "job-1")
	if err != nil || !out.Done {
		t.Fatalf("unexpected outcome %+v, %v", out, err)
	}
	j := h.job(t)
	if j.Status != domain.JobStatusFailed || j.ErrorMessage != "audio is silent" {
		t.Errorf("unexpected job %s %q", j.Status, j.ErrorMessage)
	}
	if j.Progress == 100 {
		t.Error("failed job must not report 100")
	}
	if h.gen.totalCalls() != 0 {
		t.Error("generation ran for a failed transcription")
	}
}

func TestStep_SubmitFailures(t *testing.T) {
	tests := []struct {
		name       string
		errs       []error
		wantStatus domain.JobStatus
		wantMsg    string
		wantCalls  int
	}{
		{
			name:       "non-retryable",
			errs:       []error{apperr.New(apperr.KindInvalidFile, "unsupported codec")},
			wantStatus: domain.JobStatusFailed,
			wantMsg:    "unsupported codec",
			wantCalls:  1,
		},
		{
			name: "retryable exhausted",
			errs: []error{
				apperr.New(apperr.KindTranscription, "provider unavailable"),
				apperr.New(apperr.KindTranscription, "provider unavailable"),
				apperr.New(apperr.KindTranscription, "provider unavailable"),
			},
			wantStatus: domain.JobStatusFailed,
			wantMsg:    "provider unavailable",
			wantCalls:  3,
		},
		{
			name:       "unclassified",
			errs:       []error{errors.New("nil map"), errors.New("nil map")},
			wantStatus: domain.JobStatusFailed,
			wantMsg:    GenericFailureMessage,
			wantCalls:  2,
		},
		{
			name:       "recovers within retries",
			errs:       []error{apperr.RateLimited("slow down", time.Second), nil},
			wantStatus: domain.JobStatusTranscribing,
			wantCalls:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.createJob(t, domain.MaterialSummary)
			h.tx.submitErrs = tt.errs

			out, err := h.orch.Step(context.Background(), "job-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			j := h.job(t)
			if j.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", j.Status, tt.wantStatus)
			}
			if j.ErrorMessage != tt.wantMsg {
				t.Errorf("message = %q, want %q", j.ErrorMessage, tt.wantMsg)
			}
			if s, _ := h.tx.calls(); s != tt.wantCalls {
				t.Errorf("submit calls = %d, want %d", s, tt.wantCalls)
			}
			if out.Done != (tt.wantStatus == domain.JobStatusFailed) {
				t.Errorf("unexpected outcome %+v", out)
			}
		})
	}
}

func TestStep_PollRetriesCountOnJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.createJob(t, domain.MaterialSummary)
	job.Status = domain.JobStatusTranscribing
	job.TranscriptRef = "tx-123"
	_ = h.jobs.Save(ctx, job)
	h.tx.pollErrs = []error{apperr.New(apperr.KindTimeout, "poll timed out"), nil}

	out, err := h.orch.Step(ctx, "job-1")
	if err != nil || out.Done {
		t.Fatalf("unexpected outcome %+v, %v", out, err)
	}
	if j := h.job(t); j.RetryCount != 1 || j.Progress != 25 {
		t.Errorf("expected retry_count 1 and progress 25, got %d/%d", j.RetryCount, j.Progress)
	}
}
