package retrieval

import "github.com/fyrsmithlabs/learnd/internal/knowledge"

// Weights are the ranking multipliers. DefaultWeights reproduces the
// production ranking; tests and experiments may tune them.
type Weights struct {
	// SemanticScale multiplies cosine similarity.
	SemanticScale float64 `koanf:"semantic_scale"`

	// ErrorType is added once when a document targets any of the learner's error types.
	ErrorType float64 `koanf:"error_type"`

	// ExerciseType is added when the document supports the query's exercise type.
	ExerciseType float64 `koanf:"exercise_type"`

	// WeakSkill is added once when a document covers any weak skill.
	WeakSkill float64 `koanf:"weak_skill"`

	// EffectivenessBoost multiplies the help rate of documents used at least MinUses times.
	EffectivenessBoost float64 `koanf:"effectiveness_boost"`
	MinUses            int     `koanf:"min_uses"`

	// Fallback weights apply when the query could not be embedded.
	FallbackSkillMatch float64 `koanf:"fallback_skill_match"`
	FallbackErrorType  float64 `koanf:"fallback_error_type"`
	FallbackWeakSkill  float64 `koanf:"fallback_weak_skill"`
}

// DefaultWeights returns the production ranking weights.
func DefaultWeights() Weights {
	return Weights{
		SemanticScale:      5.0,
		ErrorType:          3.0,
		ExerciseType:       2.0,
		WeakSkill:          2.0,
		EffectivenessBoost: 1.5,
		MinUses:            knowledge.MinSignificantUses,
		FallbackSkillMatch: 2.0,
		FallbackErrorType:  3.0,
		FallbackWeakSkill:  2.0,
	}
}

// boost is the non-semantic score of a document on the main path.
func (w Weights) boost(doc *knowledge.Document, q Query) float64 {
	var score float64
	if knowledge.Intersects(doc.ErrorTypes, q.ErrorTypes) {
		score += w.ErrorType
	}
	if q.ExerciseType != "" && knowledge.Contains(doc.ExerciseTypes, q.ExerciseType) {
		score += w.ExerciseType
	}
	if knowledge.Intersects(doc.SkillTags, q.WeakSkills) {
		score += w.WeakSkill
	}
	score += float64(doc.Priority)
	if doc.Effectiveness.TimesUsed >= w.MinUses {
		score += doc.Effectiveness.HelpRate() * w.EffectivenessBoost
	}
	return score
}

// fallback is the score used when no query vector is available.
func (w Weights) fallback(doc *knowledge.Document, q Query) float64 {
	score := w.FallbackSkillMatch * float64(knowledge.CountShared(doc.SkillTags, q.SkillTags))
	if knowledge.Intersects(doc.ErrorTypes, q.ErrorTypes) {
		score += w.FallbackErrorType
	}
	if knowledge.Intersects(doc.SkillTags, q.WeakSkills) {
		score += w.FallbackWeakSkill
	}
	return score + float64(doc.Priority)
}
