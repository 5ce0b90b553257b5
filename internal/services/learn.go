package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/effectiveness"
	"github.com/fyrsmithlabs/learnd/internal/evaluation"
	"github.com/fyrsmithlabs/learnd/internal/indexer"
	"github.com/fyrsmithlabs/learnd/internal/knowledge"
	"github.com/fyrsmithlabs/learnd/internal/retrieval"
)

// OutcomeSink queues outcomes and attempts for asynchronous bookkeeping.
// *effectiveness.Recorder implements it.
type OutcomeSink interface {
	RecordOutcome(o effectiveness.Outcome) error
	RecordAttempt(a effectiveness.Attempt) error
}

// Options configures a LearnService with component instances.
type Options struct {
	Retriever *retrieval.Retriever
	Tracker   *effectiveness.Tracker
	Reporter  *evaluation.Reporter
	Indexer   *indexer.Indexer

	// Outcomes receives RecordOutcome and RecordAttempt calls. When nil,
	// both are applied synchronously through Tracker.
	Outcomes OutcomeSink

	Logger *zap.Logger
}

// LearnService is the facade over the knowledge services.
type LearnService struct {
	retriever *retrieval.Retriever
	tracker   *effectiveness.Tracker
	reporter  *evaluation.Reporter
	indexer   *indexer.Indexer
	outcomes  OutcomeSink
	logger    *zap.Logger
}

// NewLearnService creates a LearnService.
func NewLearnService(opts Options) (*LearnService, error) {
	if opts.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("tracker is required")
	}
	if opts.Reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if opts.Indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &LearnService{
		retriever: opts.Retriever,
		tracker:   opts.Tracker,
		reporter:  opts.Reporter,
		indexer:   opts.Indexer,
		outcomes:  opts.Outcomes,
		logger:    opts.Logger,
	}, nil
}

// Retrieve returns the best documents for q.
func (s *LearnService) Retrieve(ctx context.Context, q retrieval.Query) ([]knowledge.Document, error) {
	return s.retriever.Retrieve(ctx, q)
}

// RecordOutcome reports whether the documents used for an exercise helped.
// With an OutcomeSink configured the call returns once the outcome is
// queued; bookkeeping failures are logged, not returned.
func (s *LearnService) RecordOutcome(ctx context.Context, o effectiveness.Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if s.outcomes != nil {
		return s.outcomes.RecordOutcome(o)
	}
	return errors.Join(
		s.tracker.Update(ctx, o.KnowledgeIDs, o.Helped),
		s.tracker.TrackUsage(ctx, o.UserID, o.ExerciseID, o.KnowledgeIDs, o.Helped),
	)
}

// RecordAttempt logs a learner answer for the evaluation reports. With an
// OutcomeSink configured the call returns once the attempt is queued.
func (s *LearnService) RecordAttempt(ctx context.Context, a effectiveness.Attempt) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if s.outcomes != nil {
		return s.outcomes.RecordAttempt(a)
	}
	return s.tracker.TrackAttempt(ctx, a)
}

// SetFeatureEnabledAt overwrites when knowledge-grounded feedback was
// enabled for a user. A zero at means now.
func (s *LearnService) SetFeatureEnabledAt(ctx context.Context, userID string, at time.Time) error {
	return s.tracker.SetFeatureEnabledAt(ctx, userID, at)
}

// Effectiveness returns the counters of one document.
func (s *LearnService) Effectiveness(ctx context.Context, id string) (*effectiveness.Stats, error) {
	return s.tracker.Effectiveness(ctx, id)
}

// MostEffective returns documents with the highest help rate.
func (s *LearnService) MostEffective(ctx context.Context, skillTag string, limit int) ([]knowledge.Document, error) {
	return s.tracker.MostEffective(ctx, skillTag, limit)
}

// LeastEffective returns documents with the lowest help rate.
func (s *LearnService) LeastEffective(ctx context.Context, skillTag string, limit int) ([]knowledge.Document, error) {
	return s.tracker.LeastEffective(ctx, skillTag, limit)
}

// ResetEffectiveness zeroes the counters of one document.
func (s *LearnService) ResetEffectiveness(ctx context.Context, id string) error {
	return s.tracker.Reset(ctx, id)
}

// PerformanceReport summarizes the last days of activity.
func (s *LearnService) PerformanceReport(ctx context.Context, days int) (*evaluation.PerformanceReport, error) {
	return s.reporter.PerformanceReport(ctx, days)
}

// ErrorReductionRate compares error rates across the halves of a window.
func (s *LearnService) ErrorReductionRate(ctx context.Context, q evaluation.ErrorReductionQuery) (*evaluation.ErrorReduction, error) {
	return s.reporter.ErrorReductionRate(ctx, q)
}

// SkillImprovementRate compares a user's accuracy across the halves of a window.
func (s *LearnService) SkillImprovementRate(ctx context.Context, userID, skillTag string, days int) (*evaluation.SkillImprovement, error) {
	return s.reporter.SkillImprovementRate(ctx, userID, skillTag, days)
}

// RAGImpactScore compares a user's accuracy before and after their feature anchor.
func (s *LearnService) RAGImpactScore(ctx context.Context, userID string, days int) (*evaluation.RAGImpact, error) {
	return s.reporter.RAGImpactScore(ctx, userID, days)
}

// EmbeddingCoverage reports how many documents carry an embedding.
func (s *LearnService) EmbeddingCoverage(ctx context.Context) (*indexer.Coverage, error) {
	return s.indexer.Coverage(ctx)
}
