package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue stores pending job wake-ups. Scheduling a job that is already queued
// keeps the earlier due time, so duplicate wake-ups collapse into one entry.
type Queue interface {
	Schedule(ctx context.Context, jobID string, at time.Time) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	Len(ctx context.Context) (int64, error)
}

// Locker serializes steps of the same job.
type Locker interface {
	Lock(ctx context.Context, jobID string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, jobID, token string) error
	Refresh(ctx context.Context, jobID, token string, ttl time.Duration) (bool, error)
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu  sync.Mutex
	due map[string]time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{due: make(map[string]time.Time)}
}

func (q *MemoryQueue) Schedule(ctx context.Context, jobID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.due[jobID]; ok && !at.Before(cur) {
		return nil
	}
	q.due[jobID] = at
	return nil
}

func (q *MemoryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for id, at := range q.due {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := q.due[ids[i]], q.due[ids[j]]
		if a.Equal(b) {
			return ids[i] < ids[j]
		}
		return a.Before(b)
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		delete(q.due, id)
	}
	return ids, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.due)), nil
}

// DueAt reports when jobID is scheduled.
func (q *MemoryQueue) DueAt(jobID string) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	at, ok := q.due[jobID]
	return at, ok
}

type memoryLock struct {
	token   string
	expires time.Time
}

// MemoryLocker is an in-process Locker with expiring entries.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLock), now: time.Now}
}

func (l *MemoryLocker) Lock(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.locks[jobID]; ok && now.Before(cur.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[jobID] = memoryLock{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Unlock(ctx context.Context, jobID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.locks[jobID]; ok && cur.token == token {
		delete(l.locks, jobID)
	}
	return nil
}

func (l *MemoryLocker) Refresh(ctx context.Context, jobID, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cur, ok := l.locks[jobID]
	if !ok || cur.token != token || !now.Before(cur.expires) {
		return false, nil
	}
	l.locks[jobID] = memoryLock{token: token, expires: now.Add(ttl)}
	return true, nil
}
