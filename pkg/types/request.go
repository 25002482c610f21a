// Package types defines core data structures for LLM API requests and responses.
// All types are compatible with OpenAI's Chat Completion API format so any
// OpenAI-like provider can be used as the completion backend.
package types

// ChatRequest represents an OpenAI-compatible chat completion request.
// It is the unified input format for all completion providers.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	User           string          `json:"user,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatMessage represents a single message in the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ResponseFormat specifies the output format for the model.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Float64Ptr returns a pointer to v, for optional request fields.
func Float64Ptr(v float64) *float64 { return &v }
