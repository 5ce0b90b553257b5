package embeddings

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrMalformedResponse indicates the provider answered with an unusable payload
	ErrMalformedResponse = errors.New("malformed embedding response")
)

// ProviderError is returned by every Provider call that fails: empty input,
// an unreachable provider or a malformed response. It is never retried here;
// callers decide whether to retry or degrade.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// EmbeddingProvider names the failing provider. Consumers match on this
// method with errors.As so they need not import this package.
func (e *ProviderError) EmbeddingProvider() string {
	return e.Provider
}

// IsProviderError reports whether err is or wraps a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
