package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/noteably/internal/infra/provider"
	"github.com/vietddude/noteably/internal/infra/storage"
)

// Checker pings a dependency.
type Checker func(ctx context.Context) error

// Monitor aggregates health status from various system components.
type Monitor struct {
	checkers  map[string]Checker
	providers map[string]*provider.Monitor
	jobs      storage.JobRepository
	ttl       time.Duration

	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. jobs may be nil.
func NewMonitor(jobs storage.JobRepository) *Monitor {
	return &Monitor{
		checkers:  make(map[string]Checker),
		providers: make(map[string]*provider.Monitor),
		jobs:      jobs,
		ttl:       10 * time.Second,
	}
}

// AddChecker registers a dependency check. A failing check makes the system critical.
func (m *Monitor) AddChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// AddProvider registers an external provider's monitor. A throttled or
// degraded provider degrades the system.
func (m *Monitor) AddProvider(name string, pm *provider.Monitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = pm
}

// CheckHealth runs all checks, caching the result briefly.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < m.ttl {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.checkers)),
		Providers:    make(map[string]ProviderHealth, len(m.providers)),
	}

	for name, check := range m.checkers {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := check(cctx)
		cancel()

		h := ComponentHealth{Status: StatusHealthy}
		if err != nil {
			h.Status = StatusCritical
			h.Error = err.Error()
		}
		report.Components[name] = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	for name, pm := range m.providers {
		stats := pm.Stats()
		h := ProviderHealth{Status: StatusHealthy, Stats: stats}
		if stats.Status != provider.StatusHealthy {
			h.Status = StatusDegraded
		}
		report.Providers[name] = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	if m.jobs != nil {
		if counts, err := m.jobs.CountByStatus(ctx); err == nil {
			report.Jobs = make(map[string]int, len(counts))
			for status, n := range counts {
				report.Jobs[string(status)] = n
			}
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
