package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaterialType is a kind of study material generated from a transcript.
type MaterialType string

const (
	MaterialSummary    MaterialType = "summary"
	MaterialNotes      MaterialType = "notes"
	MaterialFlashcards MaterialType = "flashcards"
	MaterialQuiz       MaterialType = "quiz"
)

// AllMaterialTypes lists the supported types in canonical order.
var AllMaterialTypes = []MaterialType{MaterialSummary, MaterialNotes, MaterialFlashcards, MaterialQuiz}

// Valid reports whether t is a supported material type.
func (t MaterialType) Valid() bool {
	switch t {
	case MaterialSummary, MaterialNotes, MaterialFlashcards, MaterialQuiz:
		return true
	}
	return false
}

// NormalizeMaterialTypes collapses duplicates and sorts into canonical order.
// Unknown types are dropped.
func NormalizeMaterialTypes(types []MaterialType) []MaterialType {
	seen := make(map[MaterialType]bool, len(types))
	for _, t := range types {
		if t.Valid() {
			seen[t] = true
		}
	}
	out := make([]MaterialType, 0, len(seen))
	for _, t := range AllMaterialTypes {
		if seen[t] {
			out = append(out, t)
		}
	}
	return out
}

// ParseMaterialTypes parses a comma separated list such as "summary,quiz".
// It fails on unknown names or an empty result.
func ParseMaterialTypes(s string) ([]MaterialType, error) {
	var types []MaterialType
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		t := MaterialType(name)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown material type %q", name)
		}
		types = append(types, t)
	}
	types = NormalizeMaterialTypes(types)
	if len(types) == 0 {
		return nil, fmt.Errorf("at least one material type is required")
	}
	return types, nil
}

// MaterialTypeStrings converts types to plain strings, sorted.
func MaterialTypeStrings(types []MaterialType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	sort.Strings(out)
	return out
}

// GeneratedContent is one generated artifact. There is at most one per
// (job, material type).
type GeneratedContent struct {
	JobID        string          `json:"job_id"`
	MaterialType MaterialType    `json:"material_type"`
	Content      json.RawMessage `json:"content"`
	Model        string          `json:"model"`
	TokensUsed   *int            `json:"tokens_used,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Summary is the payload of a summary.
type Summary struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// Notes is the payload of study notes in markdown.
type Notes struct {
	Content string `json:"content"`
}

type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type FlashcardSet struct {
	Flashcards []Flashcard `json:"flashcards"`
}

type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
	Explanation   string   `json:"explanation"`
}

type Quiz struct {
	Questions []QuizQuestion `json:"questions"`
}

// ValidatePayload checks raw against the schema of t.
func ValidatePayload(t MaterialType, raw []byte) error {
	switch t {
	case MaterialSummary:
		var s Summary
		if err := decodePayload(raw, &s); err != nil {
			return err
		}
		if s.Summary == "" {
			return fmt.Errorf("summary: missing summary text")
		}
		if s.KeyPoints == nil {
			return fmt.Errorf("summary: missing key_points")
		}
	case MaterialNotes:
		var n Notes
		if err := decodePayload(raw, &n); err != nil {
			return err
		}
		if n.Content == "" {
			return fmt.Errorf("notes: missing content")
		}
	case MaterialFlashcards:
		var f FlashcardSet
		if err := decodePayload(raw, &f); err != nil {
			return err
		}
		if len(f.Flashcards) == 0 {
			return fmt.Errorf("flashcards: no cards")
		}
		for i, c := range f.Flashcards {
			if c.Front == "" || c.Back == "" {
				return fmt.Errorf("flashcards: card %d incomplete", i)
			}
		}
	case MaterialQuiz:
		var q Quiz
		if err := decodePayload(raw, &q); err != nil {
			return err
		}
		if len(q.Questions) == 0 {
			return fmt.Errorf("quiz: no questions")
		}
		for i, qq := range q.Questions {
			if qq.Question == "" {
				return fmt.Errorf("quiz: question %d empty", i)
			}
			if len(qq.Options) != 4 {
				return fmt.Errorf("quiz: question %d has %d options, want 4", i, len(qq.Options))
			}
			if qq.CorrectOption < 0 || qq.CorrectOption > 3 {
				return fmt.Errorf("quiz: question %d correct_option %d out of range", i, qq.CorrectOption)
			}
		}
	default:
		return fmt.Errorf("unknown material type %q", t)
	}
	return nil
}

func decodePayload(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// GenerationResult is what the generation provider returned for one type.
type GenerationResult struct {
	Content    json.RawMessage
	Model      string
	TokensUsed *int
}
