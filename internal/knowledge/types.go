// Package knowledge defines knowledge documents, usage logs and the storage
// contracts shared by retrieval, effectiveness tracking and reporting.
package knowledge

import (
	"time"
)

// Difficulty is the curator-assigned level of a knowledge document.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Valid reports whether d is one of the known difficulty levels.
// The empty difficulty is not valid; callers treat it as "any".
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// Embedding is a stored document vector together with the model that produced it.
type Embedding struct {
	Vector      []float32 `json:"vector"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// MinSignificantUses is the number of uses below which a document's help
// rate is treated as noise by ranking and effectiveness queries.
const MinSignificantUses = 5

// Effectiveness holds the helpfulness counters of a document.
//
// Counters only grow, except through an explicit administrative reset.
// HelpedCorrect never exceeds TimesUsed.
type Effectiveness struct {
	TimesUsed     int        `json:"times_used"`
	HelpedCorrect int        `json:"helped_correct"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
}

// HelpRate returns HelpedCorrect/TimesUsed, or 0 when the document was never used.
func (e Effectiveness) HelpRate() float64 {
	if e.TimesUsed == 0 {
		return 0
	}
	return float64(e.HelpedCorrect) / float64(e.TimesUsed)
}

// Document is a curated grammar or vocabulary fact used to ground feedback
// and exercise generation.
type Document struct {
	ID            string        `json:"id"`
	Content       string        `json:"content"`
	Example       string        `json:"example,omitempty"`
	Examples      []string      `json:"examples,omitempty"`
	SkillTags     []string      `json:"skill_tags"`
	ErrorTypes    []string      `json:"error_types,omitempty"`
	ExerciseTypes []string      `json:"exercise_types,omitempty"`
	Difficulty    Difficulty    `json:"difficulty"`
	Priority      int           `json:"priority"`
	Embedding     *Embedding    `json:"embedding,omitempty"`
	Effectiveness Effectiveness `json:"effectiveness"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HasEmbedding reports whether the document carries a usable stored vector.
func (d *Document) HasEmbedding() bool {
	return d.Embedding != nil && len(d.Embedding.Vector) > 0
}

// EmbeddingText is the text sent to the embedding provider for this document.
func (d *Document) EmbeddingText() string {
	text := d.Content
	if d.Example != "" {
		text += "\n" + d.Example
	}
	for _, ex := range d.Examples {
		if ex != "" {
			text += "\n" + ex
		}
	}
	return text
}

// UsageRecord is one append-only audit entry: a set of documents used for an
// exercise and whether the learner then answered correctly.
type UsageRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ExerciseID   string    `json:"exercise_id"`
	KnowledgeIDs []string  `json:"knowledge_ids"`
	WasHelpful   bool      `json:"was_helpful"`
	Timestamp    time.Time `json:"timestamp"`
}

// AttemptRecord is one learner answer, used for error-reduction and
// skill-improvement statistics.
type AttemptRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ExerciseID string    `json:"exercise_id"`
	SkillTags  []string  `json:"skill_tags,omitempty"`
	ErrorTypes []string  `json:"error_types,omitempty"`
	Correct    bool      `json:"correct"`
	Timestamp  time.Time `json:"timestamp"`
}

// AttemptFilter selects attempts in the half-open window [From, To).
// Empty UserID, SkillTag and ErrorType match everything.
type AttemptFilter struct {
	UserID    string
	SkillTag  string
	ErrorType string
	From      time.Time
	To        time.Time
}

// Matches reports whether a satisfies the filter.
func (f AttemptFilter) Matches(a AttemptRecord) bool {
	if a.Timestamp.Before(f.From) || !a.Timestamp.Before(f.To) {
		return false
	}
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.SkillTag != "" && !Contains(a.SkillTags, f.SkillTag) {
		return false
	}
	if f.ErrorType != "" && !Contains(a.ErrorTypes, f.ErrorType) {
		return false
	}
	return true
}

// Stats summarizes store-wide document counts.
type Stats struct {
	Total          int `json:"total"`
	WithEmbeddings int `json:"with_embeddings"`
	Used           int `json:"used"`
}
