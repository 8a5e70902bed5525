package generation

import (
	"fmt"
	"strings"

	"github.com/vietddude/noteably/internal/core/domain"
)

const tutorInstruction = "You are an expert tutor creating study materials from a lecture transcript."

type promptTemplate struct {
	task   string
	schema string
}

var prompts = map[domain.MaterialType]promptTemplate{
	domain.MaterialSummary: {
		task: `Create a concise summary of the following text.
Focus on the main concepts and key takeaways.
Structure it with bullet points.`,
		schema: `{
    "title": "Suggested Title",
    "summary": "The summary text...",
    "key_points": ["point 1", "point 2"]
}`,
	},
	domain.MaterialNotes: {
		task: `Create detailed study notes from the following text.
Use a hierarchical structure with headings and subheadings.
Include definitions for key terms.`,
		schema: `{
    "content": "Markdown formatted study notes..."
}`,
	},
	domain.MaterialFlashcards: {
		task: `Create 10-15 flashcards from the key concepts in the text.
Each flashcard should have a 'front' (question/concept) and 'back' (answer/definition).`,
		schema: `{
    "flashcards": [
        {"front": "concept", "back": "definition"}
    ]
}`,
	},
	domain.MaterialQuiz: {
		task: `Create a 5-question multiple choice quiz based on the text.
Each question has exactly four options. Include the correct answer index (0-3).`,
		schema: `{
    "questions": [
        {
            "question": "The question?",
            "options": ["A", "B", "C", "D"],
            "correct_option": 0,
            "explanation": "Why it is correct"
        }
    ]
}`,
	},
}

// Prompt builds the generation prompt for material type t.
func Prompt(t domain.MaterialType, transcript string) (string, error) {
	tmpl, ok := prompts[t]
	if !ok {
		return "", fmt.Errorf("unknown material type %q", t)
	}

	var b strings.Builder
	b.WriteString(tutorInstruction)
	b.WriteString("\n")
	b.WriteString(tmpl.task)
	b.WriteString("\n\nReturn your response in JSON format:\n")
	b.WriteString(tmpl.schema)
	b.WriteString("\n\nText:\n")
	b.WriteString(transcript)
	b.WriteString("\n")
	return b.String(), nil
}
