package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TEIConfig holds configuration for a Text Embeddings Inference server.
type TEIConfig struct {
	// BaseURL is the base URL for the embedding API
	BaseURL string

	// Model is the embedding model served by TEI
	Model string

	// APIKey is sent as a bearer token when set (optional for TEI)
	APIKey string

	// Timeout bounds each HTTP request. Defaults to 10s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// teiBackend calls the TEI /embed endpoint.
type teiBackend struct {
	config TEIConfig
	client *http.Client
	dim    int
}

func newTEIBackend(config TEIConfig) (*teiBackend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &teiBackend{
		config: config,
		client: &http.Client{Timeout: timeout},
		dim:    detectDimensionFromModel(config.Model),
	}, nil
}

// teiRequest is the request body for TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

func (s *teiBackend) embedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return s.post(ctx, teiRequest{Inputs: texts, Truncate: true})
}

func (s *teiBackend) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.post(ctx, teiRequest{Inputs: text, Truncate: true})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	return vectors[0], nil
}

func (s *teiBackend) post(ctx context.Context, req teiRequest) ([][]float32, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrMalformedResponse, err)
	}

	return vectors, nil
}

func (s *teiBackend) dimension() int { return s.dim }

// close is a no-op for TEI since it uses HTTP.
func (s *teiBackend) close() error { return nil }
