package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/storage"
)

// MemoryStorage keeps all pipeline state in process. A single lock guards
// every map so multi-record writes are atomic.
type MemoryStorage struct {
	jobs           map[string]*domain.Job
	transcriptions map[string]*domain.Transcription
	content        map[string]map[domain.MaterialType]*domain.GeneratedContent
	subscriptions  map[string]*domain.Subscription
	mu             sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:           make(map[string]*domain.Job),
		transcriptions: make(map[string]*domain.Transcription),
		content:        make(map[string]map[domain.MaterialType]*domain.GeneratedContent),
		subscriptions:  make(map[string]*domain.Subscription),
	}
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.jobs[job.ID]; ok {
		return storage.ErrDuplicateJob
	}
	r.store.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	j, ok := r.store.jobs[id]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (r *JobRepo) Save(ctx context.Context, job *domain.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.saveJobLocked(job)
}

func (s *MemoryStorage) saveJobLocked(job *domain.Job) error {
	cur, ok := s.jobs[job.ID]
	if !ok {
		return storage.ErrJobNotFound
	}
	if cur.IsTerminal() {
		return storage.ErrJobTerminal
	}
	next := job.Clone()
	if cur.TranscriptRef != "" {
		next.TranscriptRef = cur.TranscriptRef
	}
	next.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = next
	job.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *JobRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Job
	for _, j := range r.store.jobs {
		if j.OwnerID == ownerID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	want := make(map[domain.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*domain.Job
	for _, j := range r.store.jobs {
		if want[j.Status] {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (r *JobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.JobStatus]int)
	for _, j := range r.store.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// Transcription Repository
// -----------------------------------------------------------------------------

type TranscriptionRepo struct {
	store *MemoryStorage
}

func NewTranscriptionRepo(store *MemoryStorage) *TranscriptionRepo {
	return &TranscriptionRepo{store: store}
}

func (r *TranscriptionRepo) GetByJob(ctx context.Context, jobID string) (*domain.Transcription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.transcriptions[jobID]
	if !ok {
		return nil, storage.ErrTranscriptionNotFound
	}
	c := *t
	return &c, nil
}

func (r *TranscriptionRepo) RecordTranscript(ctx context.Context, job *domain.Job, t *domain.Transcription) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.jobs[job.ID]; !ok {
		return false, storage.ErrJobNotFound
	}
	if r.store.jobs[job.ID].IsTerminal() {
		return false, storage.ErrJobTerminal
	}

	_, exists := r.store.transcriptions[job.ID]
	if !exists {
		now := time.Now().UTC()
		c := *t
		c.JobID = job.ID
		c.CreatedAt = now
		c.UpdatedAt = now
		r.store.transcriptions[job.ID] = &c
	}
	if err := r.store.saveJobLocked(job); err != nil {
		return false, err
	}
	return !exists, nil
}

// -----------------------------------------------------------------------------
// Content Repository
// -----------------------------------------------------------------------------

type ContentRepo struct {
	store *MemoryStorage
}

func NewContentRepo(store *MemoryStorage) *ContentRepo {
	return &ContentRepo{store: store}
}

func (r *ContentRepo) Upsert(ctx context.Context, content *domain.GeneratedContent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	byType, ok := r.store.content[content.JobID]
	if !ok {
		byType = make(map[domain.MaterialType]*domain.GeneratedContent)
		r.store.content[content.JobID] = byType
	}
	now := time.Now().UTC()
	c := *content
	if prev, ok := byType[content.MaterialType]; ok {
		c.CreatedAt = prev.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	byType[content.MaterialType] = &c
	return nil
}

func (r *ContentRepo) ListByJob(ctx context.Context, jobID string) ([]*domain.GeneratedContent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.GeneratedContent
	for _, t := range domain.AllMaterialTypes {
		if c, ok := r.store.content[jobID][t]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Subscription Repository
// -----------------------------------------------------------------------------

type SubscriptionRepo struct {
	store *MemoryStorage
}

func NewSubscriptionRepo(store *MemoryStorage) *SubscriptionRepo {
	return &SubscriptionRepo{store: store}
}

// Put stores a subscription, replacing any existing one.
func (r *SubscriptionRepo) Put(sub *domain.Subscription) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *sub
	r.store.subscriptions[sub.OwnerID] = &c
}

func (r *SubscriptionRepo) Get(ctx context.Context, ownerID string) (*domain.Subscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.subscriptions[ownerID]
	if !ok {
		return nil, storage.ErrSubscriptionNotFound
	}
	c := *s
	return &c, nil
}

func (r *SubscriptionRepo) IncrementUsage(ctx context.Context, ownerID string, minutes float64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.subscriptions[ownerID]
	if !ok {
		s = domain.DefaultSubscription(ownerID)
		r.store.subscriptions[ownerID] = s
	}
	s.UploadsThisMonth++
	s.MinutesUsedThisMonth += minutes
	return nil
}
