// Package transcription is the speech-to-text adapter for an
// AssemblyAI-compatible REST API.
package transcription

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/provider"
)

// DefaultBaseURL is the public AssemblyAI endpoint.
const DefaultBaseURL = "https://api.assemblyai.com/v2"

// Config holds transcription provider settings.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client submits media for transcription and polls for results.
type Client struct {
	p      *provider.HTTPProvider
	apiKey string
}

// NewClient creates a transcription client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	p := provider.NewHTTPProvider("assemblyai", cfg.BaseURL, apperr.KindTranscription, cfg.Timeout)
	p.SetHeader("Authorization", cfg.APIKey)
	return &Client{p: p, apiKey: cfg.APIKey}
}

// Provider exposes the underlying HTTP provider for health reporting.
func (c *Client) Provider() *provider.HTTPProvider { return c.p }

type submitRequest struct {
	AudioURL          string `json:"audio_url"`
	SpeakerLabels     bool   `json:"speaker_labels"`
	AutoChapters      bool   `json:"auto_chapters"`
	EntityDetection   bool   `json:"entity_detection"`
	SentimentAnalysis bool   `json:"sentiment_analysis"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Submit starts a transcription of mediaURL and returns the provider's reference.
func (c *Client) Submit(ctx context.Context, mediaURL string) (string, error) {
	if err := c.checkKey(); err != nil {
		return "", err
	}

	body, err := c.p.Execute(ctx, provider.Request{
		Method: http.MethodPost,
		Path:   "/transcript",
		Body: submitRequest{
			AudioURL:        mediaURL,
			SpeakerLabels:   true,
			AutoChapters:    true,
			EntityDetection: true,
		},
	})
	if err != nil {
		return "", err
	}

	var resp transcriptResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperr.Wrap(apperr.KindTranscription, err, "invalid submit response")
	}
	if resp.ID == "" {
		return "", apperr.New(apperr.KindTranscription, "submit response carried no transcript id")
	}
	return resp.ID, nil
}

// Poll fetches the current state of the transcription ref.
func (c *Client) Poll(ctx context.Context, ref string) (*domain.TranscriptResult, error) {
	if err := c.checkKey(); err != nil {
		return nil, err
	}

	body, err := c.p.Execute(ctx, provider.Request{
		Method: http.MethodGet,
		Path:   "/transcript/" + ref,
	})
	if err != nil {
		return nil, err
	}

	var resp transcriptResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindTranscription, err, "invalid transcript response")
	}

	result := &domain.TranscriptResult{
		Ref:    ref,
		Status: parseStatus(resp.Status),
		Text:   resp.Text,
		Error:  resp.Error,
		Raw:    json.RawMessage(body),
	}
	if result.Status == domain.TranscriptError && result.Error == "" {
		result.Error = "transcription failed"
	}
	return result, nil
}

func (c *Client) checkKey() error {
	if c.apiKey == "" {
		return apperr.New(apperr.KindPermissionDenied, "transcription API key not configured")
	}
	return nil
}

// parseStatus maps provider states; anything unrecognised is still in progress.
func parseStatus(s string) domain.TranscriptStatus {
	switch s {
	case "queued":
		return domain.TranscriptQueued
	case "completed":
		return domain.TranscriptCompleted
	case "error":
		return domain.TranscriptError
	default:
		return domain.TranscriptProcessing
	}
}
