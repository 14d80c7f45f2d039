package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mschirtzinger/dualsync/internal/docsync/retry"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "text-embedding-3-small"
	embeddingsPath = "/v1/embeddings"
)

// HTTPConfig configures an HTTPEmbedder.
type HTTPConfig struct {
	// BaseURL of an OpenAI-compatible API (default: https://api.openai.com).
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model name (default: text-embedding-3-small).
	Model string

	// Dimensions requests a reduced output size when > 0.
	Dimensions int

	// Timeout per request (default: 60s).
	Timeout time.Duration
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// NewHTTPEmbedder creates an HTTPEmbedder.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPEmbedder{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
}

// Embed implements store.Embedder.
//
// 429 and 5xx responses and transport failures are transient; other
// non-200 responses are terminal.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text, Dimensions: e.dimensions})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+embeddingsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Transient(fmt.Errorf("embedding request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.Transient(err)
		}
		return nil, err
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding decode: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("embedding response has no data")
	}
	return out.Data[0].Embedding, nil
}
