package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kanren/internal/textutil"
	"github.com/hyperjump/kanren/internal/vector"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPOptions configures an HTTPEmbedder.
type HTTPOptions struct {
	// Endpoint is the full URL of the embeddings route, e.g.
	// http://localhost:3000/embeddings.
	Endpoint string
	Model    string
	APIKey   string
	// Dimensions, when positive, is enforced on every response. Zero accepts
	// whatever the server returns.
	Dimensions        int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// HTTPEmbedder calls an OpenAI-compatible embeddings API:
// POST {model, input} returning {data: [{embedding, index}]}.
type HTTPEmbedder struct {
	endpoint   string
	model      string
	apiKey     string
	dimensions atomic.Int64
	strictDims bool
	client     *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type embeddingRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewHTTPEmbedder returns a client for opts.Endpoint. logger may be nil.
func NewHTTPEmbedder(opts HTTPOptions, logger *zap.Logger) (*HTTPEmbedder, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("embedding endpoint is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	e := &HTTPEmbedder{
		endpoint:   opts.Endpoint,
		model:      opts.Model,
		apiKey:     opts.APIKey,
		strictDims: opts.Dimensions > 0,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
	e.dimensions.Store(int64(opts.Dimensions))
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return e, nil
}

// Embed returns the embedding for text, or (nil, nil) when text is blank or
// the server returns no embedding.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = textutil.Preprocess(text)
	if text == "" {
		return nil, nil
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", err)
		}
	}

	data, err := e.callAPI(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data[0].Embedding) == 0 {
		if e.logger != nil {
			e.logger.Debug("Embedding API returned no embedding")
		}
		return nil, nil
	}
	emb := data[0].Embedding
	if e.strictDims {
		if want := int(e.dimensions.Load()); len(emb) != want {
			return nil, fmt.Errorf("embedding API: %w", &vector.ErrDimensionMismatch{Expected: want, Actual: len(emb)})
		}
	} else {
		e.dimensions.Store(int64(len(emb)))
	}
	return emb, nil
}

func (e *HTTPEmbedder) callAPI(ctx context.Context, text string) ([]embeddingData, error) {
	bodyBytes, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if e.logger != nil {
		e.logger.Debug("Embedding API call",
			zap.Int("status", resp.StatusCode),
			zap.Int("chars", len(text)),
			zap.Duration("elapsed", time.Since(start)))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp embeddingResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != nil {
			return nil, fmt.Errorf("embedding API error (HTTP %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("embedding API error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var result embeddingResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", result.Error.Message)
	}
	return result.Data, nil
}

// Dimensions returns the configured dimension, or the length of the last
// embedding received when none was configured.
func (e *HTTPEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
