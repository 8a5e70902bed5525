package domain

import (
	"encoding/json"
	"time"
)

// Transcription is the transcript produced for a job. There is at most one per job.
type Transcription struct {
	JobID       string          `json:"job_id"`
	ExternalRef string          `json:"external_ref"`
	Text        string          `json:"text"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TranscriptStatus is the provider-side state of a transcription.
type TranscriptStatus string

const (
	TranscriptQueued     TranscriptStatus = "queued"
	TranscriptProcessing TranscriptStatus = "processing"
	TranscriptCompleted  TranscriptStatus = "completed"
	TranscriptError      TranscriptStatus = "error"
)

// TranscriptResult is one observation of a provider transcription.
type TranscriptResult struct {
	Ref    string
	Status TranscriptStatus
	Text   string
	Error  string
	Raw    json.RawMessage
}
