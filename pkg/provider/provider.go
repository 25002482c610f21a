// Package provider defines the public interfaces for LLM provider adapters.
// Each provider (DeepSeek, OpenAI-compatible endpoints, Gemini embeddings)
// implements these to handle request/response transformation and API
// communication.
package provider

import (
	"context"
	"time"

	"github.com/hearthmind/hearth/pkg/types"
)

// ChatProvider handles the complete lifecycle of a chat completion request:
// building, sending, and parsing. Implementations map upstream failures to
// *errors.TurnError.
type ChatProvider interface {
	// Name returns the provider identifier (e.g., "deepseek").
	Name() string

	// ChatCompletion sends the request and returns the unified response.
	ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)

	// ChatCompletionStream sends the request with streaming enabled and
	// returns an iterator over SSE chunks.
	ChatCompletionStream(ctx context.Context, req *types.ChatRequest) (StreamHandler, error)
}

// Embedder generates vector embeddings for text. A nil vector with a nil
// error never occurs: failures return an error which callers may treat as
// "no embedding available".
type Embedder interface {
	// Name returns the provider identifier (e.g., "gemini").
	Name() string

	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StreamHandler provides an iterator-like interface for processing SSE events.
type StreamHandler interface {
	// Next returns the next chunk from the stream.
	// Returns io.EOF when the stream is complete.
	Next() (*types.StreamChunk, error)

	// Close releases resources associated with the stream.
	Close() error
}

// Config contains provider-specific configuration.
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Headers map[string]string
}
