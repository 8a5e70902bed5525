// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/vietddude/noteably/internal/infra/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// ProviderHealth is the state of one external provider.
type ProviderHealth struct {
	Status SystemStatus          `json:"status"`
	Stats  provider.MonitorStats `json:"stats"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
	Providers    map[string]ProviderHealth  `json:"providers,omitempty"`
	Jobs         map[string]int             `json:"jobs,omitempty"`
}
