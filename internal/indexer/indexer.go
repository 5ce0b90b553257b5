// Package indexer populates stored embeddings for knowledge documents and
// reports embedding coverage.
//
// It is an offline job: unlike retrieval, it surfaces embedding provider
// failures to the caller.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

const (
	DefaultBatchSize = 32

	// defaultRateLimit is provider batches per second.
	defaultRateLimit = 2.0
	defaultBurst     = 1
)

// BatchEmbedder produces document vectors.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// DocumentStore is the part of knowledge.Store the indexer needs.
type DocumentStore interface {
	List(ctx context.Context, skillTag string) ([]knowledge.Document, error)
	SetEmbedding(ctx context.Context, id string, emb knowledge.Embedding) error
	Stats(ctx context.Context) (knowledge.Stats, error)
}

// Config configures an Indexer.
type Config struct {
	BatchSize int
	// RateLimit is the maximum number of provider batches per second.
	RateLimit float64
	Burst     int
}

// PopulateOptions controls one Populate run.
type PopulateOptions struct {
	// BatchSize overrides Config.BatchSize when positive.
	BatchSize int
	// Force re-embeds documents that already have a vector.
	Force bool
}

// PopulateResult summarizes a Populate run.
type PopulateResult struct {
	Considered int           `json:"considered"`
	Embedded   int           `json:"embedded"`
	Skipped    int           `json:"skipped"`
	Batches    int           `json:"batches"`
	Duration   time.Duration `json:"duration"`
}

// Coverage is the share of documents with a stored embedding.
type Coverage struct {
	Total             int     `json:"total"`
	WithEmbeddings    int     `json:"with_embeddings"`
	WithoutEmbeddings int     `json:"without_embeddings"`
	CoveragePct       float64 `json:"coverage_pct"`
}

// Indexer generates and stores document embeddings.
type Indexer struct {
	store     DocumentStore
	embedder  BatchEmbedder
	batchSize int
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an Indexer. embedder may be nil when only Coverage is used.
func New(store DocumentStore, embedder BatchEmbedder, cfg Config, logger *zap.Logger) (*Indexer, error) {
	if store == nil {
		return nil, errors.New("document store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}

	return &Indexer{
		store:     store,
		embedder:  embedder,
		batchSize: cfg.BatchSize,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Populate embeds every document without a stored vector, or every document
// when opts.Force is set. Documents with no text are skipped. The first
// provider or store failure stops the run; vectors already written stay.
func (ix *Indexer) Populate(ctx context.Context, opts PopulateOptions) (*PopulateResult, error) {
	if ix.embedder == nil {
		return nil, errors.New("no embedding provider configured")
	}
	start := ix.now()
	batchSize := ix.batchSize
	if opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}

	docs, err := ix.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	result := &PopulateResult{}
	var ids, texts []string
	for i := range docs {
		doc := &docs[i]
		if doc.HasEmbedding() && !opts.Force {
			continue
		}
		result.Considered++
		text := strings.TrimSpace(doc.EmbeddingText())
		if text == "" {
			result.Skipped++
			ix.logger.Warn("skipping document with no text", zap.String("knowledge_id", doc.ID))
			continue
		}
		ids = append(ids, doc.ID)
		texts = append(texts, text)
	}

	for from := 0; from < len(texts); from += batchSize {
		to := min(from+batchSize, len(texts))
		if err := ix.limiter.Wait(ctx); err != nil {
			return result, err
		}

		vectors, err := ix.embedder.EmbedBatch(ctx, texts[from:to])
		if err != nil {
			return result, fmt.Errorf("embedding batch %d: %w", result.Batches+1, err)
		}
		result.Batches++

		generatedAt := ix.now()
		for k, vec := range vectors {
			emb := knowledge.Embedding{Vector: vec, Model: ix.embedder.Model(), GeneratedAt: generatedAt}
			if err := ix.store.SetEmbedding(ctx, ids[from+k], emb); err != nil {
				return result, fmt.Errorf("storing embedding for %s: %w", ids[from+k], err)
			}
			result.Embedded++
		}

		ix.logger.Info("embedded batch",
			zap.Int("batch", result.Batches),
			zap.Int("size", to-from),
			zap.Int("embedded", result.Embedded),
			zap.Int("remaining", len(texts)-to))
	}

	result.Duration = ix.now().Sub(start)
	ix.logger.Info("embedding population complete",
		zap.Int("considered", result.Considered),
		zap.Int("embedded", result.Embedded),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// Coverage reports how many documents carry an embedding.
func (ix *Indexer) Coverage(ctx context.Context) (*Coverage, error) {
	st, err := ix.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	c := &Coverage{
		Total:             st.Total,
		WithEmbeddings:    st.WithEmbeddings,
		WithoutEmbeddings: st.Total - st.WithEmbeddings,
	}
	if st.Total > 0 {
		c.CoveragePct = math.Round(float64(st.WithEmbeddings)*100/float64(st.Total)*100) / 100
	}
	return c, nil
}
