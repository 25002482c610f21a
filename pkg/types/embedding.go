package types

import "fmt"

// EmbeddingDimension is the vector width used across the memory store.
// The hybrid-search procedure and the memories table are fixed at this width.
const EmbeddingDimension = 768

// EmbeddingRequest represents a unified embedding request.
// Provider adapters transform it into their wire format.
type EmbeddingRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// Validate checks whether the request can be sent to a provider.
func (r *EmbeddingRequest) Validate() error {
	if r.Input == "" {
		return fmt.Errorf("input cannot be empty")
	}
	if r.Dimensions < 0 {
		return fmt.Errorf("dimensions must be non-negative")
	}
	return nil
}

// EmbeddingResponse carries the resulting vector.
type EmbeddingResponse struct {
	Values []float32 `json:"values"`
}

// Validate checks the vector has the expected width.
func (r *EmbeddingResponse) Validate(dimensions int) error {
	if dimensions > 0 && len(r.Values) != dimensions {
		return fmt.Errorf("expected %d-dimensional embedding, got %d", dimensions, len(r.Values))
	}
	return nil
}
