// Package effectiveness learns which knowledge documents help learners.
//
// The Tracker applies usage outcomes to document counters and the usage
// audit log. The Recorder runs that bookkeeping on a bounded worker pool so
// request handlers never wait on it.
package effectiveness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

// DefaultLimit is used by MostEffective and LeastEffective when limit is zero.
const DefaultLimit = 5

// Stats is the effectiveness of one document.
type Stats struct {
	ID            string     `json:"id"`
	TimesUsed     int        `json:"times_used"`
	HelpedCorrect int        `json:"helped_correct"`
	HelpRate      float64    `json:"help_rate"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
}

// Tracker maintains document effectiveness counters and the usage log.
type Tracker struct {
	store  knowledge.Store
	usage  knowledge.UsageLog
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(store knowledge.Store, usage knowledge.UsageLog, logger *zap.Logger) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("knowledge store is required")
	}
	if usage == nil {
		return nil, errors.New("usage log is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, usage: usage, logger: logger, now: time.Now}, nil
}

// Update counts one use of every document in ids, and one helped-correct
// when helped. Repeated calls count again. Every ID is attempted; failures
// are joined into the returned error.
func (t *Tracker) Update(ctx context.Context, ids []string, helped bool) error {
	at := t.now()
	var errs []error
	for _, id := range ids {
		if err := t.store.IncrementEffectiveness(ctx, id, helped, at); err != nil {
			errs = append(errs, fmt.Errorf("updating %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// TrackUsage appends a usage record to the audit log.
func (t *Tracker) TrackUsage(ctx context.Context, userID, exerciseID string, ids []string, wasHelpful bool) error {
	if userID == "" {
		return knowledge.NewValidationError("user_id", "required")
	}
	rec := knowledge.UsageRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		ExerciseID:   exerciseID,
		KnowledgeIDs: append([]string(nil), ids...),
		WasHelpful:   wasHelpful,
		Timestamp:    t.now(),
	}
	if err := t.usage.AppendUsage(ctx, rec); err != nil {
		return fmt.Errorf("appending usage: %w", err)
	}
	return nil
}

// TrackAttempt appends a learner attempt to the attempt log.
func (t *Tracker) TrackAttempt(ctx context.Context, a Attempt) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a = a.prepared(t.now())
	rec := knowledge.AttemptRecord{
		ID:         uuid.NewString(),
		UserID:     a.UserID,
		ExerciseID: a.ExerciseID,
		SkillTags:  a.SkillTags,
		ErrorTypes: a.ErrorTypes,
		Correct:    a.Correct,
		Timestamp:  a.Timestamp,
	}
	if err := t.usage.AppendAttempt(ctx, rec); err != nil {
		return fmt.Errorf("appending attempt: %w", err)
	}
	return nil
}

// EnableFeature anchors the first time userID received knowledge-grounded
// feedback. An existing anchor is kept. It returns the anchor in effect and
// whether this call set it.
func (t *Tracker) EnableFeature(ctx context.Context, userID string) (time.Time, bool, error) {
	if userID == "" {
		return time.Time{}, false, knowledge.NewValidationError("user_id", "required")
	}
	at, err := t.usage.FeatureEnabledAt(ctx, userID)
	if err == nil {
		return at, false, nil
	}
	if !errors.Is(err, knowledge.ErrNotFound) {
		return time.Time{}, false, fmt.Errorf("reading feature anchor: %w", err)
	}

	at = t.now()
	if err := t.usage.SetFeatureEnabledAt(ctx, userID, at); err != nil {
		return time.Time{}, false, fmt.Errorf("setting feature anchor: %w", err)
	}
	t.logger.Info("knowledge-grounded feedback enabled",
		zap.String("user_id", userID),
		zap.Time("enabled_at", at))
	return at, true, nil
}

// SetFeatureEnabledAt overwrites the user's feature anchor. Administrative
// use only, e.g. to backfill users enabled before attempts were recorded.
func (t *Tracker) SetFeatureEnabledAt(ctx context.Context, userID string, at time.Time) error {
	if userID == "" {
		return knowledge.NewValidationError("user_id", "required")
	}
	if at.IsZero() {
		at = t.now()
	}
	if err := t.usage.SetFeatureEnabledAt(ctx, userID, at); err != nil {
		return fmt.Errorf("setting feature anchor: %w", err)
	}
	t.logger.Info("feature anchor set",
		zap.String("user_id", userID),
		zap.Time("enabled_at", at))
	return nil
}

// Effectiveness returns the counters of one document.
func (t *Tracker) Effectiveness(ctx context.Context, id string) (*Stats, error) {
	doc, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return statsOf(doc), nil
}

// MostEffective returns documents with at least knowledge.MinSignificantUses
// uses, highest help rate first. An empty skillTag means all documents.
func (t *Tracker) MostEffective(ctx context.Context, skillTag string, limit int) ([]knowledge.Document, error) {
	return t.ranked(ctx, skillTag, limit, func(a, b float64) bool { return a > b })
}

// LeastEffective is MostEffective in ascending help-rate order.
func (t *Tracker) LeastEffective(ctx context.Context, skillTag string, limit int) ([]knowledge.Document, error) {
	return t.ranked(ctx, skillTag, limit, func(a, b float64) bool { return a < b })
}

func (t *Tracker) ranked(ctx context.Context, skillTag string, limit int, before func(a, b float64) bool) ([]knowledge.Document, error) {
	if limit < 0 {
		return nil, knowledge.NewValidationError("limit", "must not be negative, got %d", limit)
	}
	if limit == 0 {
		limit = DefaultLimit
	}

	docs, err := t.store.List(ctx, skillTag)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	significant := make([]knowledge.Document, 0, len(docs))
	for _, d := range docs {
		if d.Effectiveness.TimesUsed >= knowledge.MinSignificantUses {
			significant = append(significant, d)
		}
	}
	sort.SliceStable(significant, func(i, j int) bool {
		return before(significant[i].Effectiveness.HelpRate(), significant[j].Effectiveness.HelpRate())
	})
	if len(significant) > limit {
		significant = significant[:limit]
	}
	return significant, nil
}

// Reset zeros a document's counters. Administrative use only.
func (t *Tracker) Reset(ctx context.Context, id string) error {
	if err := t.store.ResetEffectiveness(ctx, id, t.now()); err != nil {
		return err
	}
	t.logger.Info("effectiveness reset", zap.String("knowledge_id", id))
	return nil
}

func statsOf(doc *knowledge.Document) *Stats {
	return &Stats{
		ID:            doc.ID,
		TimesUsed:     doc.Effectiveness.TimesUsed,
		HelpedCorrect: doc.Effectiveness.HelpedCorrect,
		HelpRate:      doc.Effectiveness.HelpRate(),
		LastUsed:      doc.Effectiveness.LastUsed,
		ResetAt:       doc.Effectiveness.ResetAt,
	}
}
