// Package retrieval ranks knowledge documents for a learner query.
//
// Retrieve runs a stateless pipeline: a symbolic tag/difficulty filter,
// semantic scoring of documents that carry a stored vector, additive boosts,
// then a stable descending sort capped at the query limit. When the query
// cannot be embedded the retriever degrades to a tag-overlap ranking instead
// of failing.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
	"github.com/fyrsmithlabs/learnd/internal/similarity"
)

const instrumentationName = "github.com/fyrsmithlabs/learnd/internal/retrieval"

// DefaultQueryTimeout bounds query embedding.
const DefaultQueryTimeout = 5 * time.Second

// DocumentSource is the part of knowledge.Store the retriever reads.
type DocumentSource interface {
	GetByFilter(ctx context.Context, skillTags []string, difficulty knowledge.Difficulty) ([]knowledge.Document, error)
}

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// providerFailure is implemented by embedding provider errors.
type providerFailure interface {
	error
	EmbeddingProvider() string
}

// failedProvider returns the provider named by err, if err came from one.
func failedProvider(err error) (string, bool) {
	var pf providerFailure
	if errors.As(err, &pf) {
		return pf.EmbeddingProvider(), true
	}
	return "", false
}

// Config configures a Retriever.
type Config struct {
	Weights      Weights
	QueryTimeout time.Duration
}

// ScoredCandidate is a document with its ranking scores.
type ScoredCandidate struct {
	Document      knowledge.Document `json:"document"`
	SemanticScore float64            `json:"semantic_score"`
	BoostScore    float64            `json:"boost_score"`
	TotalScore    float64            `json:"total_score"`
}

// Retriever is the hybrid retriever. It holds no per-call state and is safe
// for concurrent use.
type Retriever struct {
	source   DocumentSource
	embedder Embedder
	weights  Weights
	timeout  time.Duration
	logger   *zap.Logger

	tracer    trace.Tracer
	retrieved metric.Int64Counter
	degraded  metric.Int64Counter
}

// New creates a Retriever. A nil embedder makes every call use the fallback ranking.
func New(source DocumentSource, embedder Embedder, cfg Config, logger *zap.Logger) (*Retriever, error) {
	if source == nil {
		return nil, errors.New("document source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	r := &Retriever{
		source:   source,
		embedder: embedder,
		weights:  cfg.Weights,
		timeout:  cfg.QueryTimeout,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}
	r.initMetrics()
	return r, nil
}

func (r *Retriever) initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	r.retrieved, err = meter.Int64Counter(
		"learnd.retrieval.requests_total",
		metric.WithDescription("Total retrieval requests by ranking path"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		r.logger.Warn("failed to create retrieval counter", zap.Error(err))
	}

	r.degraded, err = meter.Int64Counter(
		"learnd.retrieval.degraded_total",
		metric.WithDescription("Retrievals that fell back to tag ranking because the query could not be embedded"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		r.logger.Warn("failed to create degraded counter", zap.Error(err))
	}
}

// Retrieve returns up to q.Limit documents, best first.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]knowledge.Document, error) {
	scored, err := r.RetrieveScored(ctx, q)
	if err != nil {
		return nil, err
	}
	docs := make([]knowledge.Document, len(scored))
	for i := range scored {
		docs[i] = scored[i].Document
	}
	return docs, nil
}

// RetrieveScored is Retrieve with the ranking scores attached.
func (r *Retriever) RetrieveScored(ctx context.Context, q Query) ([]ScoredCandidate, error) {
	ctx, span := r.tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.StringSlice("skill_tags", q.SkillTags),
		attribute.String("exercise_type", q.ExerciseType),
		attribute.String("difficulty", string(q.Difficulty)),
		attribute.Int("limit", q.limit()),
	)

	if err := q.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(q.SkillTags) == 0 {
		return []ScoredCandidate{}, nil
	}

	candidates, err := r.source.GetByFilter(ctx, q.SkillTags, q.Difficulty)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("filtering candidates: %w", err)
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	if len(candidates) == 0 {
		return []ScoredCandidate{}, nil
	}

	path := "hybrid"
	queryVec, err := r.embedQuery(ctx, q)
	var scored []ScoredCandidate
	switch {
	case err == nil:
		scored = r.scoreHybrid(queryVec, candidates, q)
	case ctx.Err() != nil:
		// The caller gave up; this is not a provider outage.
		span.RecordError(ctx.Err())
		return nil, ctx.Err()
	default:
		path = "fallback"
		provider, isProvider := failedProvider(err)
		r.logger.Warn("query embedding failed, using fallback ranking",
			zap.Bool("provider_error", isProvider),
			zap.String("provider", provider),
			zap.Error(err))
		span.AddEvent("retrieval.degraded", trace.WithAttributes(attribute.String("error", err.Error())))
		if r.degraded != nil {
			r.degraded.Add(ctx, 1)
		}
		scored = r.scoreFallback(candidates, q)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].TotalScore > scored[j].TotalScore
	})
	if limit := q.limit(); len(scored) > limit {
		scored = scored[:limit]
	}

	if r.retrieved != nil {
		r.retrieved.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
	}
	span.SetAttributes(
		attribute.String("path", path),
		attribute.Int("results", len(scored)),
	)
	r.logger.Debug("retrieved knowledge",
		zap.String("path", path),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(scored)))

	return scored, nil
}

func (r *Retriever) embedQuery(ctx context.Context, q Query) ([]float32, error) {
	if r.embedder == nil {
		return nil, errors.New("no embedding provider configured")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.embedder.Embed(ctx, q.embeddingText())
}

// scoreHybrid scores candidates in filter order. Documents without a stored
// vector, or whose vector dimension differs from the query's, get a zero
// semantic score.
func (r *Retriever) scoreHybrid(queryVec []float32, candidates []knowledge.Document, q Query) []ScoredCandidate {
	var (
		vectors  [][]float32
		embedded []int
	)
	for i := range candidates {
		doc := &candidates[i]
		if !doc.HasEmbedding() {
			continue
		}
		if len(doc.Embedding.Vector) != len(queryVec) {
			r.logger.Warn("stored embedding dimension does not match query",
				zap.String("knowledge_id", doc.ID),
				zap.Int("stored", len(doc.Embedding.Vector)),
				zap.Int("query", len(queryVec)))
		}
		vectors = append(vectors, doc.Embedding.Vector)
		embedded = append(embedded, i)
	}

	semantic := make([]float64, len(candidates))
	for k, sim := range similarity.CosineBatch(queryVec, vectors) {
		semantic[embedded[k]] = sim * r.weights.SemanticScale
	}

	scored := make([]ScoredCandidate, len(candidates))
	for i := range candidates {
		boost := r.weights.boost(&candidates[i], q)
		scored[i] = ScoredCandidate{
			Document:      candidates[i],
			SemanticScore: semantic[i],
			BoostScore:    boost,
			TotalScore:    semantic[i] + boost,
		}
	}
	return scored
}

func (r *Retriever) scoreFallback(candidates []knowledge.Document, q Query) []ScoredCandidate {
	scored := make([]ScoredCandidate, len(candidates))
	for i := range candidates {
		score := r.weights.fallback(&candidates[i], q)
		scored[i] = ScoredCandidate{
			Document:   candidates[i],
			BoostScore: score,
			TotalScore: score,
		}
	}
	return scored
}
