package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider turns text into fixed-dimension vectors.
//
// Implementations return a *ProviderError for every failure. They do not
// retry: callers compose their own retry or fallback policy.
type Provider interface {
	// Embed returns the vector for a single non-empty text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in input order. Callers filter
	// out empty texts beforehand.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model is the model identifier stored alongside generated vectors.
	Model() string

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// backend is what a concrete provider implements; the instrumented wrapper
// adds input validation, metrics and error typing on top.
type backend interface {
	embedQuery(ctx context.Context, text string) ([]float32, error)
	embedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	dimension() int
	close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "tei", "fastembed", "ollama" or "openai"
	Provider string
	// Model is the embedding model name
	Model string
	// BaseURL is the TEI or Ollama URL
	BaseURL string
	// APIKey is used by the OpenAI provider
	APIKey string
	// CacheDir is the model cache directory (only used for FastEmbed)
	CacheDir string
	// MaxLength is the FastEmbed tokenizer truncation length. Defaults to 512.
	MaxLength int
	// BatchSize is the FastEmbed inference batch size. Defaults to 256.
	BatchSize int
	// Timeout bounds every HTTP call to the provider
	Timeout time.Duration
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		b   backend
		err error
	)
	switch cfg.Provider {
	case "tei", "":
		b, err = newTEIBackend(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey, Timeout: cfg.Timeout})
	case "fastembed":
		b, err = newFastembedBackend(cfg)
	case "ollama", "openai":
		b, err = newChromemBackend(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	name := cfg.Provider
	if name == "" {
		name = "tei"
	}
	return newInstrumented(name, cfg.Model, b, logger), nil
}

// instrumented wraps a backend with validation, metrics and ProviderError typing.
type instrumented struct {
	name    string
	model   string
	backend backend
	metrics *providerMetrics
}

func newInstrumented(name, model string, b backend, logger *zap.Logger) *instrumented {
	return &instrumented{
		name:    name,
		model:   model,
		backend: b,
		metrics: newProviderMetrics(name, model, logger),
	}
}

// Embed generates an embedding for a single text.
func (p *instrumented) Embed(ctx context.Context, text string) (vec []float32, err error) {
	start, sent := time.Now(), 0
	defer func() {
		p.metrics.record(ctx, "embed", start, sent, err)
	}()

	if strings.TrimSpace(text) == "" {
		return nil, p.fail("embed", fmt.Errorf("%w: text cannot be empty", ErrEmptyInput))
	}

	sent = 1
	vec, err = p.backend.embedQuery(ctx, text)
	if err != nil {
		return nil, p.fail("embed", err)
	}
	if len(vec) == 0 {
		return nil, p.fail("embed", fmt.Errorf("%w: empty vector", ErrMalformedResponse))
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (p *instrumented) EmbedBatch(ctx context.Context, texts []string) (vecs [][]float32, err error) {
	start, sent := time.Now(), 0
	defer func() {
		p.metrics.record(ctx, "embed_batch", start, sent, err)
	}()

	if len(texts) == 0 {
		return nil, p.fail("embed_batch", fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput))
	}

	sent = len(texts)
	vecs, err = p.backend.embedDocuments(ctx, texts)
	if err != nil {
		return nil, p.fail("embed_batch", err)
	}
	if len(vecs) != len(texts) {
		return nil, p.fail("embed_batch", fmt.Errorf("%w: got %d vectors for %d texts", ErrMalformedResponse, len(vecs), len(texts)))
	}
	return vecs, nil
}

// Model returns the configured model name.
func (p *instrumented) Model() string { return p.model }

// Dimension returns the embedding dimension.
func (p *instrumented) Dimension() int { return p.backend.dimension() }

// Close releases backend resources.
func (p *instrumented) Close() error { return p.backend.close() }

func (p *instrumented) fail(op string, err error) error {
	return &ProviderError{Provider: p.name, Op: op, Err: err}
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownModelDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "3-large"):
		return 3072
	case strings.Contains(model, "text-embedding"):
		return 1536
	case strings.Contains(model, "nomic"):
		return 768
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384 // Safe default for bge-small
	}
}

var knownModelDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"nomic-embed-text":                       768,
}
