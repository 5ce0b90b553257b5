package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/contextbuilder"
	"github.com/fyrsmithlabs/learnd/internal/knowledge"
	"github.com/fyrsmithlabs/learnd/internal/retrieval"
)

// FeedbackRequest asks for knowledge explaining a learner's mistake.
// When UserID is set, the first feedback grounded on at least one document
// anchors the user's RAG impact window.
type FeedbackRequest struct {
	UserID       string                    `json:"user_id,omitempty"`
	SkillTags    []string                  `json:"skill_tags"`
	ErrorType    string                    `json:"error_type,omitempty"`
	ExerciseType string                    `json:"exercise_type,omitempty"`
	Difficulty   knowledge.Difficulty      `json:"difficulty,omitempty"`
	Answer       contextbuilder.AnswerPair `json:"answer"`
}

// ExerciseRequest asks for knowledge to ground a new exercise.
type ExerciseRequest struct {
	SkillTags    []string             `json:"skill_tags"`
	ErrorTypes   []string             `json:"error_types,omitempty"`
	ExerciseType string               `json:"exercise_type,omitempty"`
	Difficulty   knowledge.Difficulty `json:"difficulty,omitempty"`
	WeakSkills   []string             `json:"weak_skills,omitempty"`
	Limit        int                  `json:"limit,omitempty"`
}

// RenderedContext is prompt text plus the documents it was built from.
// KnowledgeIDs are reported back through RecordOutcome.
type RenderedContext struct {
	Text         string   `json:"text"`
	KnowledgeIDs []string `json:"knowledge_ids"`
}

// FeedbackContext retrieves and renders knowledge for feedback on an answer.
func (s *LearnService) FeedbackContext(ctx context.Context, req FeedbackRequest) (*RenderedContext, error) {
	q := retrieval.Query{
		SkillTags:    req.SkillTags,
		ExerciseType: req.ExerciseType,
		Difficulty:   req.Difficulty,
		Limit:        contextbuilder.FeedbackLimit,
	}
	if req.ErrorType != "" {
		q.ErrorTypes = []string{req.ErrorType}
	}

	docs, err := s.retriever.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	if req.UserID != "" && len(docs) > 0 {
		s.anchorFeature(ctx, req.UserID)
	}
	text := contextbuilder.BuildForFeedback(docs, req.Answer, req.ErrorType)
	s.logger.Debug("built feedback context",
		zap.Int("documents", len(docs)),
		zap.String("error_type", req.ErrorType))
	return &RenderedContext{Text: text, KnowledgeIDs: feedbackIDs(docs, req.ErrorType)}, nil
}

// anchorFeature records the user's first grounded feedback. Failures are
// logged; the feedback itself is still served.
func (s *LearnService) anchorFeature(ctx context.Context, userID string) {
	if _, _, err := s.tracker.EnableFeature(ctx, userID); err != nil {
		s.logger.Warn("failed to anchor knowledge-grounded feedback",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// ExerciseContext retrieves and renders knowledge for exercise generation.
func (s *LearnService) ExerciseContext(ctx context.Context, req ExerciseRequest) (*RenderedContext, error) {
	docs, err := s.retriever.Retrieve(ctx, retrieval.Query{
		SkillTags:    req.SkillTags,
		ErrorTypes:   req.ErrorTypes,
		ExerciseType: req.ExerciseType,
		Difficulty:   req.Difficulty,
		WeakSkills:   req.WeakSkills,
		Limit:        req.Limit,
	})
	if err != nil {
		return nil, err
	}
	text := contextbuilder.BuildForExerciseGeneration(docs, req.SkillTags, req.ErrorTypes)
	s.logger.Debug("built exercise context", zap.Int("documents", len(docs)))
	return &RenderedContext{Text: text, KnowledgeIDs: ids(docs)}, nil
}

// feedbackIDs lists the documents BuildForFeedback renders, in rendered order.
func feedbackIDs(docs []knowledge.Document, errorType string) []string {
	var matching, rest []string
	for _, d := range docs {
		if errorType != "" && knowledge.Contains(d.ErrorTypes, errorType) {
			matching = append(matching, d.ID)
		} else {
			rest = append(rest, d.ID)
		}
	}
	out := append(matching, rest...)
	if len(out) > contextbuilder.FeedbackLimit {
		out = out[:contextbuilder.FeedbackLimit]
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func ids(docs []knowledge.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
