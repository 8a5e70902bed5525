package pipeline

import (
	"errors"
	"time"

	"github.com/vietddude/noteably/internal/core/domain"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed job status transitions.
// Key is the current status, value is the list of valid next statuses.
var ValidTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusQueued:       {domain.JobStatusTranscribing, domain.JobStatusFailed},
	domain.JobStatusTranscribing: {domain.JobStatusGenerating, domain.JobStatusFailed},
	domain.JobStatusGenerating:   {domain.JobStatusCompleted, domain.JobStatusFailed},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to domain.JobStatus) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a status change with metadata.
type Transition struct {
	From      domain.JobStatus
	To        domain.JobStatus
	Reason    string
	Timestamp time.Time

	committed bool
}

// NewTransition creates a new transition record.
func NewTransition(from, to domain.JobStatus, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StepLabel returns the human-readable step shown to clients for a status.
func StepLabel(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusQueued:
		return "Waiting to start"
	case domain.JobStatusTranscribing:
		return "Transcribing audio"
	case domain.JobStatusGenerating:
		return "Generating study materials"
	case domain.JobStatusCompleted:
		return "Completed"
	case domain.JobStatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
