// Package contextbuilder renders ranked knowledge documents as prompt text.
//
// Rendering is pure: no I/O, and the output depends only on the input order.
package contextbuilder

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

// NoKnowledgePlaceholder is rendered when there is nothing to show.
const NoKnowledgePlaceholder = "No relevant knowledge found."

// FeedbackLimit is how many documents feedback context shows.
const FeedbackLimit = 3

// AnswerPair is the learner's answer and the expected one.
type AnswerPair struct {
	Prompt        string `json:"prompt,omitempty"`
	UserAnswer    string `json:"user_answer"`
	CorrectAnswer string `json:"correct_answer"`
}

// BuildForFeedback renders up to FeedbackLimit documents explaining a
// mistake. Documents targeting errorType come first; the relative order
// within each group is kept.
func BuildForFeedback(docs []knowledge.Document, answer AnswerPair, errorType string) string {
	if len(docs) == 0 {
		return NoKnowledgePlaceholder
	}

	ordered := partitionByErrorType(docs, errorType)
	if len(ordered) > FeedbackLimit {
		ordered = ordered[:FeedbackLimit]
	}

	var b strings.Builder
	if answer.Prompt != "" {
		fmt.Fprintf(&b, "Exercise: %s\n", answer.Prompt)
	}
	fmt.Fprintf(&b, "Learner answer: %s\n", answer.UserAnswer)
	fmt.Fprintf(&b, "Correct answer: %s\n", answer.CorrectAnswer)
	if errorType != "" {
		fmt.Fprintf(&b, "Detected error: %s\n", errorType)
	}
	b.WriteString("\nRelevant rules:\n")
	for _, d := range ordered {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(d.Content))
		if ex := firstExample(d); ex != "" {
			fmt.Fprintf(&b, "  Example: %s\n", ex)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildForExerciseGeneration renders every document, with all examples,
// under a header naming the target skills and error types.
func BuildForExerciseGeneration(docs []knowledge.Document, skills, errorTypes []string) string {
	if len(docs) == 0 {
		return NoKnowledgePlaceholder
	}

	var b strings.Builder
	if len(skills) > 0 {
		fmt.Fprintf(&b, "Target skills: %s\n", strings.Join(skills, ", "))
	}
	if len(errorTypes) > 0 {
		fmt.Fprintf(&b, "Target errors: %s\n", strings.Join(errorTypes, ", "))
	}
	b.WriteString("\nKnowledge:\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(d.Content))
		if d.Difficulty != "" {
			fmt.Fprintf(&b, "   Level: %s\n", d.Difficulty)
		}
		for _, ex := range examples(d) {
			fmt.Fprintf(&b, "   Example: %s\n", ex)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// partitionByErrorType moves documents targeting errorType to the front.
func partitionByErrorType(docs []knowledge.Document, errorType string) []knowledge.Document {
	if errorType == "" {
		return docs
	}
	matching := make([]knowledge.Document, 0, len(docs))
	rest := make([]knowledge.Document, 0, len(docs))
	for _, d := range docs {
		if knowledge.Contains(d.ErrorTypes, errorType) {
			matching = append(matching, d)
		} else {
			rest = append(rest, d)
		}
	}
	return append(matching, rest...)
}

func firstExample(d knowledge.Document) string {
	if ex := examples(d); len(ex) > 0 {
		return ex[0]
	}
	return ""
}

// examples returns Example followed by Examples, blanks skipped.
func examples(d knowledge.Document) []string {
	var out []string
	if ex := strings.TrimSpace(d.Example); ex != "" {
		out = append(out, ex)
	}
	for _, ex := range d.Examples {
		if ex = strings.TrimSpace(ex); ex != "" {
			out = append(out, ex)
		}
	}
	return out
}
