// Package embeddings turns knowledge text into vectors.
//
// A Provider is selected at runtime from ProviderConfig: "tei" calls a Text
// Embeddings Inference server, "fastembed" runs a local ONNX model (CGO
// builds only), and "ollama" or "openai" go through chromem-go's hosted
// embedding functions. Every provider failure surfaces as a *ProviderError
// so callers can degrade without parsing messages.
package embeddings
