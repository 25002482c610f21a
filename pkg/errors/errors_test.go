package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnError_Error(t *testing.T) {
	err := NewProviderError("deepseek", "deepseek-chat", "upstream exploded", 502)
	assert.Contains(t, err.Error(), "provider_error")
	assert.Contains(t, err.Error(), "deepseek")
	assert.Contains(t, err.Error(), "502")

	denied := NewAccessDeniedError("persona is private")
	assert.Contains(t, denied.Error(), "access_denied_error")
	assert.NotContains(t, denied.Error(), "provider=")
}

func TestTurnError_HTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, NewRateLimitError("over budget").HTTPStatusCode())
	assert.Equal(t, http.StatusForbidden, NewAccessDeniedError("no").HTTPStatusCode())
	assert.Equal(t, http.StatusInternalServerError, (&TurnError{}).HTTPStatusCode())
}

func TestTurnError_Retryable(t *testing.T) {
	assert.True(t, NewProviderError("p", "m", "rate", 429).Retryable)
	assert.True(t, NewProviderError("p", "m", "down", 503).Retryable)
	assert.False(t, NewProviderError("p", "m", "bad key", 401).Retryable)
	assert.False(t, NewAccessDeniedError("nope").Retryable)
}
