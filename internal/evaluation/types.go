package evaluation

import (
	"math"
	"time"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

// Status tells whether a statistic could be computed.
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
	StatusNoAnchor         Status = "no_anchor"
)

const (
	// MinSplitAttempts is required across both halves of a midpoint split.
	MinSplitAttempts = 10

	// MinImpactAttempts is required on each side of the feature anchor.
	MinImpactAttempts = 5

	// TopDocuments is how many documents a performance report lists.
	TopDocuments = 5
)

// MatchRate is the share of usage events that were helpful.
type MatchRate struct {
	Days       int     `json:"days"`
	Total      int     `json:"total"`
	Helpful    int     `json:"helpful"`
	Rate       float64 `json:"rate"`
	Percentage float64 `json:"percentage"`
}

// ErrorReductionQuery scopes ErrorReductionRate. Empty UserID or ErrorType
// means all users or all error types.
type ErrorReductionQuery struct {
	UserID    string `json:"user_id,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Days      int    `json:"days"`
}

// SplitStats compares the two halves of a window. Rates are fractions;
// Percentage is the change relative to the first half.
type SplitStats struct {
	FirstHalfAttempts  int     `json:"first_half_attempts"`
	SecondHalfAttempts int     `json:"second_half_attempts"`
	FirstHalfRate      float64 `json:"first_half_rate"`
	SecondHalfRate     float64 `json:"second_half_rate"`
	Change             float64 `json:"change"`
	Percentage         float64 `json:"percentage"`
}

// ErrorReduction reports how much the error rate fell from the first half of
// the window to the second. Stats is nil unless Status is StatusOK.
type ErrorReduction struct {
	Status        Status      `json:"status"`
	UserID        string      `json:"user_id,omitempty"`
	ErrorType     string      `json:"error_type,omitempty"`
	Days          int         `json:"days"`
	TotalAttempts int         `json:"total_attempts"`
	Stats         *SplitStats `json:"stats,omitempty"`
}

// SkillImprovement reports how much accuracy rose from the first half of the
// window to the second. Stats is nil unless Status is StatusOK.
type SkillImprovement struct {
	Status        Status      `json:"status"`
	UserID        string      `json:"user_id"`
	SkillTag      string      `json:"skill_tag,omitempty"`
	Days          int         `json:"days"`
	TotalAttempts int         `json:"total_attempts"`
	Stats         *SplitStats `json:"stats,omitempty"`
}

// WindowStats is the accuracy of a user's attempts in one window.
type WindowStats struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Attempts int       `json:"attempts"`
	Accuracy float64   `json:"accuracy"`
}

// RAGImpact compares accuracy before and after knowledge-grounded feedback
// was enabled for a user.
type RAGImpact struct {
	Status     Status       `json:"status"`
	UserID     string       `json:"user_id"`
	Days       int          `json:"days"`
	EnabledAt  *time.Time   `json:"enabled_at,omitempty"`
	Before     *WindowStats `json:"before,omitempty"`
	After      *WindowStats `json:"after,omitempty"`
	Change     float64      `json:"change"`
	Percentage float64      `json:"percentage"`
}

// DocumentEffectiveness is one entry of a report's top list.
type DocumentEffectiveness struct {
	ID        string  `json:"id"`
	HelpRate  float64 `json:"help_rate"`
	TimesUsed int     `json:"times_used"`
}

// PerformanceReport aggregates retrieval and learning statistics.
type PerformanceReport struct {
	Days           int                     `json:"days"`
	GeneratedAt    time.Time               `json:"generated_at"`
	MatchRate      MatchRate               `json:"match_rate"`
	ErrorReduction ErrorReduction          `json:"error_reduction"`
	MostEffective  []DocumentEffectiveness `json:"most_effective"`
	Coverage       knowledge.Stats         `json:"coverage"`
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}

// relative returns change/base as a percentage, or 0 when base is 0.
func relative(change, base float64) float64 {
	if base == 0 {
		return 0
	}
	return round2(change / base * 100)
}
