package provider

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status represents the health state of a provider.
type Status int

const (
	StatusHealthy   Status = iota // Provider is working normally
	StatusDegraded                // Provider is slow or failing often
	StatusThrottled               // Provider is rate limiting
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats struct {
	Status         Status        `json:"-"`
	StatusName     string        `json:"status"`
	AverageLatency time.Duration `json:"average_latency_ns"`
	ThrottleCount  int           `json:"throttle_count"`
	FailureCount   int           `json:"failure_count"`
	RequestCount   int           `json:"request_count"`
	RetryAfter     time.Duration `json:"retry_after_ns"`
}

// Monitor tracks provider latency, failures and rate limiting.
type Monitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	throttleCount    int
	failureCount     int
	requestCount     int
	throttlePatterns []string
	throttledUntil   time.Time

	slowResponseThreshold time.Duration
	degradedThreshold     float64

	now func() time.Time
}

// NewMonitor creates a new monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"resource_exhausted",
			"quota exceeded",
		},
		slowResponseThreshold: 30 * time.Second,
		degradedThreshold:     0.3, // 30% error rate
		now:                   time.Now,
	}
}

// RecordRequest records a successful request with its latency.
func (m *Monitor) RecordRequest(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCount++
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

// RecordFailure records a failed request.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount++
	m.failureCount++
}

// RecordThrottle records a rate limiting response. Calls are refused locally
// until retryAfter has elapsed.
func (m *Monitor) RecordThrottle(retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCount++
	m.throttleCount++
	if until := m.now().Add(retryAfter); until.After(m.throttledUntil) {
		m.throttledUntil = until
	}
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (m *Monitor) DetectThrottlePattern(message string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lowerMsg := strings.ToLower(message)
	for _, pattern := range m.throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// RetryAfter returns remaining time before calls are allowed again.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryAfterLocked()
}

func (m *Monitor) retryAfterLocked() time.Duration {
	if remaining := m.throttledUntil.Sub(m.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// CheckStatus returns the current status of the provider.
func (m *Monitor) CheckStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	if m.retryAfterLocked() > 0 {
		return StatusThrottled
	}
	if m.requestCount >= 10 && float64(m.failureCount)/float64(m.requestCount) > m.degradedThreshold {
		return StatusDegraded
	}
	if len(m.recentLatencies) > 10 && m.averageLatencyLocked() > m.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

func (m *Monitor) averageLatencyLocked() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := m.statusLocked()
	return MonitorStats{
		Status:         status,
		StatusName:     status.String(),
		AverageLatency: m.averageLatencyLocked(),
		ThrottleCount:  m.throttleCount,
		FailureCount:   m.failureCount,
		RequestCount:   m.requestCount,
		RetryAfter:     m.retryAfterLocked(),
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. It returns 0 when the header is absent or unparsable.
func ParseRetryAfter(h string, now time.Time) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
