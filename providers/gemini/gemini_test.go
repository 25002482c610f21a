package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedServer(t *testing.T, dims int) (*httptest.Server, *string) {
	t.Helper()
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery

		body, _ := io.ReadAll(r.Body)
		var req geminiEmbedRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Content.Parts, 1)
		assert.Equal(t, dims, req.OutputDimensionality)

		values := make([]float32, dims)
		for i := range values {
			values[i] = 0.1
		}
		resp := map[string]any{"embedding": map[string]any{"values": values}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	return server, &gotPath
}

func TestEmbed(t *testing.T) {
	server, gotPath := embedServer(t, 768)
	defer server.Close()

	e := New(WithAPIKey("gk"), WithBaseURL(server.URL))
	vec, err := e.Embed(context.Background(), "I love sunsets")
	require.NoError(t, err)
	assert.Len(t, vec, 768)
	assert.True(t, strings.HasPrefix(*gotPath, "/v1beta/models/text-embedding-004:embedContent"))
	assert.Contains(t, *gotPath, "key=gk")
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	// Server returns an 8-wide vector while the embedder expects 768.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"embedding": map[string]any{"values": make([]float32, 8)}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e := New(WithAPIKey("gk"), WithBaseURL(server.URL))
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "768")
}

func TestEmbed_EmptyInput(t *testing.T) {
	e := New(WithAPIKey("gk"))
	_, err := e.Embed(context.Background(), "")
	require.Error(t, err)
}

func TestEmbed_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"message": "API key invalid"}}`))
	}))
	defer server.Close()

	e := New(WithAPIKey("bad"), WithBaseURL(server.URL))
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
