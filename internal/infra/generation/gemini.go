// Package generation is the text-generation adapter for a Gemini-compatible
// REST API. Each call produces one validated material payload.
package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/provider"
)

const (
	// DefaultBaseURL is the public Gemini endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-1.5-flash"
)

// Config holds generation provider settings.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client generates study materials from transcripts.
type Client struct {
	p      *provider.HTTPProvider
	model  string
	apiKey string
}

// NewClient creates a generation client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	p := provider.NewHTTPProvider("gemini", cfg.BaseURL, apperr.KindGeneration, cfg.Timeout)
	p.SetHeader("x-goog-api-key", cfg.APIKey)
	return &Client{p: p, model: cfg.Model, apiKey: cfg.APIKey}
}

// Provider exposes the underlying HTTP provider for health reporting.
func (c *Client) Provider() *provider.HTTPProvider { return c.p }

type part struct {
	Text string `json:"text"`
}

type contentBlock struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []contentBlock   `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content      contentBlock `json:"content"`
		FinishReason string       `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Generate produces the payload for material type t from transcript text.
func (c *Client) Generate(ctx context.Context, text string, t domain.MaterialType) (*domain.GenerationResult, error) {
	if c.apiKey == "" {
		return nil, apperr.New(apperr.KindPermissionDenied, "generation API key not configured")
	}
	prompt, err := Prompt(t, text)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "unsupported material type")
	}

	body, err := c.p.Execute(ctx, provider.Request{
		Method: http.MethodPost,
		Path:   "/models/" + c.model + ":generateContent",
		Body: generateRequest{
			Contents:         []contentBlock{{Role: "user", Parts: []part{{Text: prompt}}}},
			GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
		},
	})
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindGeneration, err, "invalid generation response")
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, apperr.Newf(apperr.KindSafetyFilter, "content blocked by safety filter (%s)", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, apperr.New(apperr.KindGeneration, "generation returned no candidates")
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == "SAFETY" || cand.FinishReason == "PROHIBITED_CONTENT" {
		return nil, apperr.Newf(apperr.KindSafetyFilter, "content blocked by safety filter (%s)", cand.FinishReason)
	}

	var out strings.Builder
	for _, p := range cand.Content.Parts {
		out.WriteString(p.Text)
	}

	payload, err := ExtractJSON(out.String())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedOutput, err, "generation output is not JSON")
	}
	if err := domain.ValidatePayload(t, payload); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedOutput, err, "generation output does not match schema")
	}

	result := &domain.GenerationResult{
		Content: payload,
		Model:   c.model,
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		tokens := resp.UsageMetadata.TotalTokenCount
		result.TokensUsed = &tokens
	}
	return result, nil
}
