package retrieval

import (
	"strings"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

// DefaultLimit is used when a query does not set a positive Limit.
const DefaultLimit = 5

// Query describes what knowledge a consumer wants.
type Query struct {
	// SkillTags gate candidates: a document must share at least one tag.
	SkillTags []string `json:"skill_tags"`

	// ErrorTypes are the learner's recent error types.
	ErrorTypes []string `json:"error_types,omitempty"`

	// ExerciseType is the exercise being generated or graded.
	ExerciseType string `json:"exercise_type,omitempty"`

	// Difficulty, when set, must match a document's difficulty exactly.
	Difficulty knowledge.Difficulty `json:"difficulty,omitempty"`

	// WeakSkills are skills the learner struggles with.
	WeakSkills []string `json:"weak_skills,omitempty"`

	// Text is embedded for semantic scoring. Derived from the tags when empty.
	Text string `json:"text,omitempty"`

	// Limit caps the result size. Zero means DefaultLimit.
	Limit int `json:"limit,omitempty"`
}

// Validate checks caller input.
func (q Query) Validate() error {
	if q.Limit < 0 {
		return knowledge.NewValidationError("limit", "must not be negative, got %d", q.Limit)
	}
	if q.Difficulty != "" && !q.Difficulty.Valid() {
		return knowledge.NewValidationError("difficulty", "unknown difficulty %q", q.Difficulty)
	}
	return nil
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// embeddingText returns the text to embed for the query.
func (q Query) embeddingText() string {
	if t := strings.TrimSpace(q.Text); t != "" {
		return t
	}
	parts := make([]string, 0, len(q.SkillTags)+len(q.ErrorTypes)+1)
	parts = append(parts, q.SkillTags...)
	parts = append(parts, q.ErrorTypes...)
	if q.ExerciseType != "" {
		parts = append(parts, q.ExerciseType)
	}
	return strings.Join(parts, " ")
}
