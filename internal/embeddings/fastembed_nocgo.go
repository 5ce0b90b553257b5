//go:build !cgo

package embeddings

import "fmt"

// newFastembedBackend fails: the ONNX runtime needs CGO.
func newFastembedBackend(ProviderConfig) (backend, error) {
	return nil, fmt.Errorf("%w: fastembed requires a CGO build, use the tei provider", ErrInvalidConfig)
}
