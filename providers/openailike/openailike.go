// Package openailike provides a base implementation for OpenAI-compatible
// completion providers. Most chat APIs follow OpenAI's format with minor
// variations; this package reduces duplication by providing a common
// foundation that named providers wrap.
package openailike

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/hearthmind/hearth/pkg/errors"
	"github.com/hearthmind/hearth/pkg/provider"
	"github.com/hearthmind/hearth/pkg/types"
)

// Info contains provider-specific configuration.
type Info struct {
	// Name is the provider identifier (e.g., "deepseek").
	Name string

	// DefaultBaseURL is the default API endpoint.
	DefaultBaseURL string

	// ChatEndpoint is the path for chat completions.
	// Default: "/chat/completions".
	ChatEndpoint string

	// APIKeyHeader is the header name for API key authentication.
	// Default: "Authorization" with "Bearer " prefix.
	APIKeyHeader string

	// APIKeyPrefix is the prefix for the API key value.
	APIKeyPrefix string

	// ExtraHeaders are additional headers to include in requests.
	ExtraHeaders map[string]string
}

// Provider implements a generic OpenAI-compatible chat adapter.
type Provider struct {
	info       Info
	apiKey     string
	baseURL    string
	model      string
	headers    map[string]string
	httpClient *http.Client
}

// New creates a new OpenAI-like provider instance.
func New(info Info, opts ...Option) *Provider {
	p := &Provider{
		info:       info,
		baseURL:    info.DefaultBaseURL,
		headers:    make(map[string]string),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(info Info, cfg provider.Config) (*Provider, error) {
	opts := []Option{
		WithAPIKey(cfg.APIKey),
		WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	p := New(info, opts...)
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.info.Name
}

// Model returns the configured default model.
func (p *Provider) Model() string {
	return p.model
}

// ChatCompletion sends a completion request and parses the response.
func (p *Provider) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if req.Model == "" && p.model != "" {
		req.Model = p.model
	}
	httpReq, err := p.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError(p.info.Name, req.Model, "request timed out")
		}
		return nil, errors.NewServiceUnavailableError(p.info.Name, req.Model, err.Error())
	}
	defer resp.Body.Close()
	return p.parseResponse(resp, req.Model)
}

// ChatCompletionStream sends a completion request with streaming enabled.
func (p *Provider) ChatCompletionStream(ctx context.Context, req *types.ChatRequest) (provider.StreamHandler, error) {
	req.Stream = true
	if req.Model == "" && p.model != "" {
		req.Model = p.model
	}
	httpReq, err := p.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewServiceUnavailableError(p.info.Name, req.Model, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, p.mapError(resp.StatusCode, body, req.Model)
	}
	return newStreamReader(resp.Body), nil
}

func (p *Provider) buildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := p.info.ChatEndpoint
	if endpoint == "" {
		endpoint = "/chat/completions"
	}

	url := strings.TrimSuffix(p.baseURL, "/") + endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	apiKeyHeader := p.info.APIKeyHeader
	if apiKeyHeader == "" {
		apiKeyHeader = "Authorization"
	}
	apiKeyPrefix := p.info.APIKeyPrefix
	if apiKeyPrefix == "" && apiKeyHeader == "Authorization" {
		apiKeyPrefix = "Bearer "
	}
	httpReq.Header.Set(apiKeyHeader, apiKeyPrefix+p.apiKey)

	for k, v := range p.info.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

func (p *Provider) parseResponse(resp *http.Response, model string) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.mapError(resp.StatusCode, body, model)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &chatResp, nil
}

// errorResponse is the common OpenAI-style error envelope.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *Provider) mapError(statusCode int, body []byte, model string) error {
	var errResp errorResponse
	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	switch statusCode {
	case http.StatusRequestTimeout:
		return errors.NewTimeoutError(p.info.Name, model, message)
	case http.StatusServiceUnavailable:
		return errors.NewServiceUnavailableError(p.info.Name, model, message)
	default:
		return errors.NewProviderError(p.info.Name, model, message, statusCode)
	}
}
