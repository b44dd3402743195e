// Package embedding turns text into fixed-length vectors. A remote embedding
// model is used when configured; any remote failure falls back to a
// deterministic local bag-of-words hash so embedding never fails for valid text.
package embedding

import (
	"context"
	"errors"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// DefaultDimensions is the vector length used when none is configured.
const DefaultDimensions = 512

// ErrEmbedding is returned when the input cannot be embedded at all.
var ErrEmbedding = errors.New("embedding error")

// Embedder produces vectors of a fixed length.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// RemoteFunc calls an external embedding model.
type RemoteFunc func(ctx context.Context, text string) ([]float32, error)

// Provider names accepted by NewRemote.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// NewRemote builds a RemoteFunc for the given provider. It returns nil for
// ProviderNone, in which case every call uses the local fallback.
func NewRemote(provider, baseURL, apiKey, model string) (RemoteFunc, error) {
	switch provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return RemoteFunc(chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil)), nil
	case ProviderOllama:
		if baseURL == "" {
			baseURL = "http://localhost:11434/api"
		}
		return RemoteFunc(chromem.NewEmbeddingFuncOllama(model, baseURL)), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
