package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/philippgille/chromem-go"
)

// chromemBackend delegates to chromem-go's hosted embedding functions
// (OpenAI and Ollama). chromem's functions embed one text per call, so a
// batch is a sequential loop that stops at the first failure.
type chromemBackend struct {
	fn      chromem.EmbeddingFunc
	dim     int
	timeout time.Duration
}

func newChromemBackend(cfg ProviderConfig) (*chromemBackend, error) {
	var fn chromem.EmbeddingFunc
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai provider requires an API key", ErrInvalidConfig)
		}
		model := cfg.Model
		if model == "" {
			model = string(chromem.EmbeddingModelOpenAI3Small)
		}
		fn = chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, chromem.EmbeddingModelOpenAI(model))
	case "ollama":
		if cfg.Model == "" {
			return nil, fmt.Errorf("%w: ollama provider requires a model", ErrInvalidConfig)
		}
		fn = chromem.NewEmbeddingFuncOllama(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: chromem backend does not support %q", ErrInvalidConfig, cfg.Provider)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &chromemBackend{fn: fn, dim: detectDimensionFromModel(cfg.Model), timeout: timeout}, nil
}

func (b *chromemBackend) embedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	vec, err := b.fn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (b *chromemBackend) embedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := b.embedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (b *chromemBackend) dimension() int { return b.dim }

func (b *chromemBackend) close() error { return nil }
