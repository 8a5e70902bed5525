package domain

import (
	"errors"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusGenerating   JobStatus = "generating"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Progress checkpoints reported to clients.
const (
	ProgressQueued       = 0
	ProgressTranscribing = 25
	ProgressGenerating   = 50
	ProgressCompleted    = 100
)

// ErrTranscriptRefAssigned is returned when a job already carries a different
// transcription reference.
var ErrTranscriptRefAssigned = errors.New("transcription reference already assigned")

// Job is the unit of work driven through the pipeline.
type Job struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"`
	Filename      string         `json:"filename"`
	SizeBytes     int64          `json:"size_bytes"`
	ContentType   string         `json:"content_type"`
	StorageURL    string         `json:"storage_url"`
	MaterialTypes []MaterialType `json:"material_types"`
	Options       map[string]any `json:"options,omitempty"`
	Status        JobStatus      `json:"status"`
	Progress      int            `json:"progress"`
	CurrentStep   string         `json:"current_step"`
	TranscriptRef string         `json:"transcript_ref,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	RetryCount    int            `json:"retry_count"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewJob creates a queued job for an uploaded file.
func NewJob(id, ownerID, filename string, size int64, contentType, storageURL string, types []MaterialType, options map[string]any) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:            id,
		OwnerID:       ownerID,
		Filename:      filename,
		SizeBytes:     size,
		ContentType:   contentType,
		StorageURL:    storageURL,
		MaterialTypes: NormalizeMaterialTypes(types),
		Options:       options,
		Status:        JobStatusQueued,
		Progress:      ProgressQueued,
		CurrentStep:   "Waiting to start",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsTerminal reports whether the job has completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// AssignTranscriptRef sets the external transcription reference. Assigning the
// same value again is a no-op; assigning a different one fails.
func (j *Job) AssignTranscriptRef(ref string) error {
	if ref == "" {
		return errors.New("empty transcription reference")
	}
	if j.TranscriptRef != "" && j.TranscriptRef != ref {
		return ErrTranscriptRefAssigned
	}
	j.TranscriptRef = ref
	return nil
}

// SetProgress raises progress to p. Lower values are ignored.
func (j *Job) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
	}
}

// Clone returns a deep copy so stored jobs are not aliased by callers.
func (j *Job) Clone() *Job {
	c := *j
	c.MaterialTypes = append([]MaterialType(nil), j.MaterialTypes...)
	if j.Options != nil {
		c.Options = make(map[string]any, len(j.Options))
		for k, v := range j.Options {
			c.Options[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
