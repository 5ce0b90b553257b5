// Package evaluation measures whether retrieved knowledge helps learners.
//
// Every operation is a read-only snapshot over the usage and attempt logs.
// Reads are not coordinated with concurrent writers; reports are eventually
// consistent.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/effectiveness"
	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

// Reporter computes evaluation statistics.
type Reporter struct {
	store   knowledge.Store
	usage   knowledge.UsageLog
	tracker *effectiveness.Tracker
	logger  *zap.Logger
	now     func() time.Time
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithClock sets the time source windows are anchored to.
func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) {
		r.now = now
	}
}

// NewReporter creates a Reporter.
func NewReporter(store knowledge.Store, usage knowledge.UsageLog, logger *zap.Logger, opts ...ReporterOption) (*Reporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker, err := effectiveness.NewTracker(store, usage, logger)
	if err != nil {
		return nil, err
	}
	r := &Reporter{store: store, usage: usage, tracker: tracker, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RetrievalMatchRate is the share of usage records in the last days that
// were helpful.
func (r *Reporter) RetrievalMatchRate(ctx context.Context, days int) (*MatchRate, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}
	to := r.now()
	records, err := r.usage.UsageBetween(ctx, to.AddDate(0, 0, -days), to)
	if err != nil {
		return nil, fmt.Errorf("reading usage: %w", err)
	}

	m := &MatchRate{Days: days, Total: len(records)}
	for _, rec := range records {
		if rec.WasHelpful {
			m.Helpful++
		}
	}
	if m.Total > 0 {
		rate := float64(m.Helpful) / float64(m.Total)
		m.Rate = round4(rate)
		m.Percentage = round2(rate * 100)
	}
	return m, nil
}

// ErrorReductionRate compares the error rate of the first and second half of
// the window.
func (r *Reporter) ErrorReductionRate(ctx context.Context, q ErrorReductionQuery) (*ErrorReduction, error) {
	if err := validateDays(q.Days); err != nil {
		return nil, err
	}
	first, second, err := r.split(ctx, knowledge.AttemptFilter{UserID: q.UserID, ErrorType: q.ErrorType}, q.Days)
	if err != nil {
		return nil, err
	}

	out := &ErrorReduction{
		Status:        StatusInsufficientData,
		UserID:        q.UserID,
		ErrorType:     q.ErrorType,
		Days:          q.Days,
		TotalAttempts: len(first) + len(second),
	}
	if out.TotalAttempts < MinSplitAttempts {
		return out, nil
	}

	firstRate := 1 - accuracy(first)
	secondRate := 1 - accuracy(second)
	if len(first) == 0 {
		firstRate = 0
	}
	if len(second) == 0 {
		secondRate = 0
	}
	out.Status = StatusOK
	out.Stats = splitStats(first, second, firstRate, secondRate, firstRate-secondRate)
	return out, nil
}

// SkillImprovementRate compares a user's accuracy in the first and second
// half of the window, optionally for one skill tag.
func (r *Reporter) SkillImprovementRate(ctx context.Context, userID, skillTag string, days int) (*SkillImprovement, error) {
	if userID == "" {
		return nil, knowledge.NewValidationError("user_id", "required")
	}
	if err := validateDays(days); err != nil {
		return nil, err
	}
	first, second, err := r.split(ctx, knowledge.AttemptFilter{UserID: userID, SkillTag: skillTag}, days)
	if err != nil {
		return nil, err
	}

	out := &SkillImprovement{
		Status:        StatusInsufficientData,
		UserID:        userID,
		SkillTag:      skillTag,
		Days:          days,
		TotalAttempts: len(first) + len(second),
	}
	if out.TotalAttempts < MinSplitAttempts {
		return out, nil
	}

	firstAcc, secondAcc := accuracy(first), accuracy(second)
	out.Status = StatusOK
	out.Stats = splitStats(first, second, firstAcc, secondAcc, secondAcc-firstAcc)
	return out, nil
}

// RAGImpactScore compares a user's accuracy in the days before the feature
// anchor with the days after it.
func (r *Reporter) RAGImpactScore(ctx context.Context, userID string, days int) (*RAGImpact, error) {
	if userID == "" {
		return nil, knowledge.NewValidationError("user_id", "required")
	}
	if err := validateDays(days); err != nil {
		return nil, err
	}

	out := &RAGImpact{Status: StatusNoAnchor, UserID: userID, Days: days}
	anchor, err := r.usage.FeatureEnabledAt(ctx, userID)
	if errors.Is(err, knowledge.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading feature anchor: %w", err)
	}
	out.EnabledAt = &anchor

	before, err := r.window(ctx, userID, anchor.AddDate(0, 0, -days), anchor)
	if err != nil {
		return nil, err
	}
	after, err := r.window(ctx, userID, anchor, anchor.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}

	out.Status = StatusInsufficientData
	if before.Attempts < MinImpactAttempts || after.Attempts < MinImpactAttempts {
		return out, nil
	}

	out.Status = StatusOK
	out.Before, out.After = before, after
	change := after.Accuracy - before.Accuracy
	out.Change = round4(change)
	out.Percentage = relative(change, before.Accuracy)
	return out, nil
}

// PerformanceReport aggregates match rate, overall error reduction, the most
// effective documents and embedding coverage.
func (r *Reporter) PerformanceReport(ctx context.Context, days int) (*PerformanceReport, error) {
	match, err := r.RetrievalMatchRate(ctx, days)
	if err != nil {
		return nil, err
	}
	reduction, err := r.ErrorReductionRate(ctx, ErrorReductionQuery{Days: days})
	if err != nil {
		return nil, err
	}
	docs, err := r.tracker.MostEffective(ctx, "", TopDocuments)
	if err != nil {
		return nil, err
	}
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading coverage: %w", err)
	}

	top := make([]DocumentEffectiveness, 0, len(docs))
	for _, d := range docs {
		top = append(top, DocumentEffectiveness{
			ID:        d.ID,
			HelpRate:  round4(d.Effectiveness.HelpRate()),
			TimesUsed: d.Effectiveness.TimesUsed,
		})
	}

	report := &PerformanceReport{
		Days:           days,
		GeneratedAt:    r.now(),
		MatchRate:      *match,
		ErrorReduction: *reduction,
		MostEffective:  top,
		Coverage:       stats,
	}
	r.logger.Debug("performance report generated",
		zap.Int("days", days),
		zap.Int("usage_records", match.Total),
		zap.String("error_reduction_status", string(reduction.Status)))
	return report, nil
}

// split returns the attempts of the last days divided at the window midpoint.
func (r *Reporter) split(ctx context.Context, filter knowledge.AttemptFilter, days int) ([]knowledge.AttemptRecord, []knowledge.AttemptRecord, error) {
	to := r.now()
	from := to.AddDate(0, 0, -days)
	mid := from.Add(to.Sub(from) / 2)

	filter.From, filter.To = from, to
	attempts, err := r.usage.AttemptsBetween(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("reading attempts: %w", err)
	}

	var first, second []knowledge.AttemptRecord
	for _, a := range attempts {
		if a.Timestamp.Before(mid) {
			first = append(first, a)
		} else {
			second = append(second, a)
		}
	}
	return first, second, nil
}

func (r *Reporter) window(ctx context.Context, userID string, from, to time.Time) (*WindowStats, error) {
	attempts, err := r.usage.AttemptsBetween(ctx, knowledge.AttemptFilter{UserID: userID, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("reading attempts: %w", err)
	}
	return &WindowStats{
		From:     from,
		To:       to,
		Attempts: len(attempts),
		Accuracy: round4(accuracy(attempts)),
	}, nil
}

func splitStats(first, second []knowledge.AttemptRecord, firstRate, secondRate, change float64) *SplitStats {
	return &SplitStats{
		FirstHalfAttempts:  len(first),
		SecondHalfAttempts: len(second),
		FirstHalfRate:      round4(firstRate),
		SecondHalfRate:     round4(secondRate),
		Change:             round4(change),
		Percentage:         relative(change, firstRate),
	}
}

// accuracy is the share of correct attempts, 0 for none.
func accuracy(attempts []knowledge.AttemptRecord) float64 {
	if len(attempts) == 0 {
		return 0
	}
	correct := 0
	for _, a := range attempts {
		if a.Correct {
			correct++
		}
	}
	return float64(correct) / float64(len(attempts))
}

func validateDays(days int) error {
	if days <= 0 {
		return knowledge.NewValidationError("days", "must be positive, got %d", days)
	}
	return nil
}
