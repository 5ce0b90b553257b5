package effectiveness

import (
	"time"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

// Attempt is one learner answer. Attempts feed the error-reduction,
// skill-improvement and RAG impact statistics.
type Attempt struct {
	UserID     string   `json:"user_id"`
	ExerciseID string   `json:"exercise_id,omitempty"`
	SkillTags  []string `json:"skill_tags"`
	ErrorTypes []string `json:"error_types,omitempty"`
	Correct    bool     `json:"correct"`

	// Timestamp is when the learner answered. Zero means now.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Validate checks caller input.
func (a Attempt) Validate() error {
	if a.UserID == "" {
		return knowledge.NewValidationError("user_id", "required")
	}
	if len(a.SkillTags) == 0 {
		return knowledge.NewValidationError("skill_tags", "at least one skill tag is required")
	}
	return nil
}

// prepared copies the slices and stamps a missing timestamp with now.
func (a Attempt) prepared(now time.Time) Attempt {
	a.SkillTags = append([]string(nil), a.SkillTags...)
	a.ErrorTypes = append([]string(nil), a.ErrorTypes...)
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	return a
}
