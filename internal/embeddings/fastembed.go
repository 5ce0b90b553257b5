//go:build cgo

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// fastembedModels maps the Hugging Face names used in config, and in
// knownModelDimensions, to the ONNX bundles fastembed downloads.
var fastembedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

const defaultFastembedModel = "BAAI/bge-small-en-v1.5"

var errBackendClosed = errors.New("embedding backend closed")

// fastembedBackend runs a BGE or MiniLM model in process. Queries get the
// "query: " prefix and documents the "passage: " prefix.
type fastembedBackend struct {
	mu        sync.RWMutex
	model     *fastembed.FlagEmbedding
	dim       int
	batchSize int
}

// resolveFastembedModel accepts a Hugging Face name or a fastembed bundle
// name and returns the bundle with its Hugging Face name.
func resolveFastembedModel(name string) (fastembed.EmbeddingModel, string, bool) {
	if name == "" {
		name = defaultFastembedModel
	}
	if m, ok := fastembedModels[name]; ok {
		return m, name, true
	}
	for hf, m := range fastembedModels {
		if string(m) == name {
			return m, hf, true
		}
	}
	return "", "", false
}

func newFastembedBackend(cfg ProviderConfig) (backend, error) {
	model, hfName, ok := resolveFastembedModel(cfg.Model)
	if !ok {
		return nil, fmt.Errorf("%w: fastembed does not support model %q", ErrInvalidConfig, cfg.Model)
	}
	if cfg.MaxLength < 0 || cfg.BatchSize < 0 {
		return nil, fmt.Errorf("%w: fastembed max_length and batch_size must not be negative", ErrInvalidConfig)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 256
	}

	progress := false
	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &progress,
	})
	if err != nil {
		return nil, fmt.Errorf("loading fastembed model %s: %w", hfName, err)
	}
	return &fastembedBackend{model: fe, dim: knownModelDimensions[hfName], batchSize: batchSize}, nil
}

func (b *fastembedBackend) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.model == nil {
		return nil, errBackendClosed
	}

	vec, err := b.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (b *fastembedBackend) embedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.model == nil {
		return nil, errBackendClosed
	}

	vecs, err := b.model.PassageEmbed(texts, b.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

func (b *fastembedBackend) dimension() int { return b.dim }

func (b *fastembedBackend) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model == nil {
		return nil
	}
	err := b.model.Destroy()
	b.model = nil
	return err
}
