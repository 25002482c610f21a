// Package gemini provides the Google Gemini embedding provider.
// It handles transformation between the unified embedding request and
// Gemini's embedContent API.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/hearthmind/hearth/pkg/provider"
	"github.com/hearthmind/hearth/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "gemini"

	// DefaultBaseURL is the Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the API version path segment.
	DefaultAPIVersion = "v1beta"

	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "text-embedding-004"
)

// Embedder implements provider.Embedder against the Gemini embedContent API.
type Embedder struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	dimensions int
	httpClient *http.Client
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(e *Embedder) { e.apiKey = key }
}

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(e *Embedder) {
		if u != "" {
			e.baseURL = u
		}
	}
}

// WithModel sets the embedding model.
func WithModel(model string) Option {
	return func(e *Embedder) {
		if model != "" {
			e.model = model
		}
	}
}

// WithDimensions sets the requested output dimensionality.
func WithDimensions(d int) Option {
	return func(e *Embedder) {
		if d > 0 {
			e.dimensions = d
		}
	}
}

// WithHTTPClient replaces the HTTP client, for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Embedder) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// New creates a new Gemini embedder.
func New(opts ...Option) *Embedder {
	e := &Embedder{
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		model:      DefaultModel,
		dimensions: types.EmbeddingDimension,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromConfig creates an embedder from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Embedder, error) {
	opts := []Option{
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.Model),
	}
	e := New(opts...)
	if cfg.Timeout > 0 {
		e.httpClient.Timeout = cfg.Timeout
	}
	return e, nil
}

// Name returns the provider identifier.
func (e *Embedder) Name() string { return ProviderName }

type geminiEmbedRequest struct {
	Content              geminiContent `json:"content"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &types.EmbeddingRequest{Input: text, Dimensions: e.dimensions}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding request: %w", err)
	}

	body, err := json.Marshal(geminiEmbedRequest{
		Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
		OutputDimensionality: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	base, err := url.Parse(strings.TrimSuffix(e.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	base.Path = base.Path + "/" + e.apiVersion + "/models/" + url.PathEscape(e.model) + ":embedContent"
	q := base.Query()
	q.Set("key", e.apiKey)
	base.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed request failed: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed geminiEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	out := &types.EmbeddingResponse{Values: parsed.Embedding.Values}
	if err := out.Validate(e.dimensions); err != nil {
		return nil, err
	}
	return out.Values, nil
}
