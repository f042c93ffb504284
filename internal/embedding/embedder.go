// Package embedding provides text embedding providers: an OpenAI-compatible
// HTTP client, in-process ONNX inference, a deterministic mock, and an LRU
// caching wrapper.
package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text. Implementations are safe for
// concurrent use.
//
// Embed returns (nil, nil) when no embedding is available for the text, for
// example when it is empty after preprocessing. A non-nil error means the
// provider failed (timeout, transport, bad response).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// Provider names accepted by New.
const (
	ProviderHTTP = "http"
	ProviderONNX = "onnx"
	ProviderMock = "mock"
)

// Options selects and configures an embedding provider.
type Options struct {
	Provider          string
	Endpoint          string
	Model             string
	APIKey            string
	Dimensions        int
	Timeout           time.Duration
	RequestsPerSecond float64
	CacheSize         int
	ModelPath         string
	MaxTokens         int
}

// New builds the configured provider, wrapped in a cache when CacheSize > 0.
func New(opts Options, logger *zap.Logger) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch opts.Provider {
	case ProviderHTTP, "":
		e, err = NewHTTPEmbedder(HTTPOptions{
			Endpoint:          opts.Endpoint,
			Model:             opts.Model,
			APIKey:            opts.APIKey,
			Dimensions:        opts.Dimensions,
			Timeout:           opts.Timeout,
			RequestsPerSecond: opts.RequestsPerSecond,
		}, logger)
	case ProviderONNX:
		e, err = NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
	case ProviderMock:
		e = NewMockEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize > 0 {
		e = NewCachedEmbedder(e, opts.CacheSize)
	}
	return e, nil
}
