package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseMaterialTypes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []MaterialType
		wantErr bool
	}{
		{"single", "summary", []MaterialType{MaterialSummary}, false},
		{"duplicates collapse", "quiz, summary,quiz", []MaterialType{MaterialSummary, MaterialQuiz}, false},
		{"case and spaces", " Notes , FLASHCARDS ", []MaterialType{MaterialNotes, MaterialFlashcards}, false},
		{"unknown", "summary,poem", nil, true},
		{"empty", " , ", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMaterialTypes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_AssignTranscriptRef(t *testing.T) {
	j := NewJob("job-1", "user-1", "talk.mp3", 1024, "audio/mpeg", "https://files/job-1", []MaterialType{MaterialSummary}, nil)

	if err := j.AssignTranscriptRef("tx-1"); err != nil {
		t.Fatalf("first assignment failed: %v", err)
	}
	if err := j.AssignTranscriptRef("tx-1"); err != nil {
		t.Errorf("re-assigning the same ref should be a no-op, got %v", err)
	}
	if err := j.AssignTranscriptRef("tx-2"); !errors.Is(err, ErrTranscriptRefAssigned) {
		t.Errorf("expected ErrTranscriptRefAssigned, got %v", err)
	}
	if j.TranscriptRef != "tx-1" {
		t.Errorf("ref changed to %q", j.TranscriptRef)
	}
	if err := j.AssignTranscriptRef(""); err == nil {
		t.Error("expected error for empty ref")
	}
}

func TestJob_SetProgressMonotonic(t *testing.T) {
	j := &Job{}
	j.SetProgress(50)
	j.SetProgress(25)
	if j.Progress != 50 {
		t.Errorf("progress regressed to %d", j.Progress)
	}
	j.SetProgress(150)
	if j.Progress != 100 {
		t.Errorf("progress should cap at 100, got %d", j.Progress)
	}
}

func TestNewJob(t *testing.T) {
	j := NewJob("job-1", "user-1", "talk.mp3", 1024, "audio/mpeg", "u", []MaterialType{MaterialQuiz, MaterialQuiz, MaterialSummary}, nil)
	if j.Status != JobStatusQueued || j.Progress != 0 {
		t.Errorf("unexpected initial state %s/%d", j.Status, j.Progress)
	}
	if !reflect.DeepEqual(j.MaterialTypes, []MaterialType{MaterialSummary, MaterialQuiz}) {
		t.Errorf("unexpected types %v", j.MaterialTypes)
	}
	if j.IsTerminal() {
		t.Error("queued job should not be terminal")
	}
}

func TestJob_Clone(t *testing.T) {
	j := NewJob("job-1", "user-1", "a.mp3", 1, "audio/mpeg", "u", []MaterialType{MaterialNotes}, map[string]any{"lang": "en"})
	c := j.Clone()
	c.MaterialTypes[0] = MaterialQuiz
	c.Options["lang"] = "vi"
	if j.MaterialTypes[0] != MaterialNotes || j.Options["lang"] != "en" {
		t.Error("clone aliases the original")
	}
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		typ     MaterialType
		raw     string
		wantErr bool
	}{
		{"summary ok", MaterialSummary, `{"title":"T","summary":"S","key_points":["a"]}`, false},
		{"summary missing text", MaterialSummary, `{"title":"T","key_points":[]}`, true},
		{"notes ok", MaterialNotes, `{"content":"# Notes"}`, false},
		{"notes empty", MaterialNotes, `{"content":""}`, true},
		{"flashcards ok", MaterialFlashcards, `{"flashcards":[{"front":"Q","back":"A"}]}`, false},
		{"flashcards incomplete", MaterialFlashcards, `{"flashcards":[{"front":"Q"}]}`, true},
		{"quiz ok", MaterialQuiz, `{"questions":[{"question":"Q","options":["a","b","c","d"],"correct_option":2,"explanation":"E"}]}`, false},
		{"quiz three options", MaterialQuiz, `{"questions":[{"question":"Q","options":["a","b","c"],"correct_option":0}]}`, true},
		{"quiz answer out of range", MaterialQuiz, `{"questions":[{"question":"Q","options":["a","b","c","d"],"correct_option":4}]}`, true},
		{"not json", MaterialNotes, `sure, here are your notes`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.typ, []byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscription_Remaining(t *testing.T) {
	tests := []struct {
		name    string
		sub     Subscription
		uploads int
		minutes float64
	}{
		{"fresh default", *DefaultSubscription("u"), 5, 30},
		{"partly used", Subscription{MonthlyUploadLimit: 50, MonthlyMinutesLimit: 600, UploadsThisMonth: 12, MinutesUsedThisMonth: 90.5}, 38, 509.5},
		{"over limit", Subscription{MonthlyUploadLimit: 5, MonthlyMinutesLimit: 30, UploadsThisMonth: 7, MinutesUsedThisMonth: 41}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.UploadsRemaining(); got != tt.uploads {
				t.Errorf("UploadsRemaining = %d, want %d", got, tt.uploads)
			}
			if got := tt.sub.MinutesRemaining(); got != tt.minutes {
				t.Errorf("MinutesRemaining = %v, want %v", got, tt.minutes)
			}
		})
	}
}
