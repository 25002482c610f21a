// Package deepseek provides the DeepSeek completion provider.
// API Reference: https://platform.deepseek.com/api-docs
package deepseek

import (
	"github.com/hearthmind/hearth/pkg/provider"
	"github.com/hearthmind/hearth/providers/openailike"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "deepseek"

	// DefaultBaseURL is the default DeepSeek API endpoint.
	DefaultBaseURL = "https://api.deepseek.com"

	// DefaultModel is used when a request does not name a model.
	DefaultModel = "deepseek-chat"
)

var providerInfo = openailike.Info{
	Name:           ProviderName,
	DefaultBaseURL: DefaultBaseURL,
}

// Provider wraps the OpenAI-like provider for DeepSeek.
type Provider struct {
	*openailike.Provider
}

// New creates a new DeepSeek provider with the given options.
func New(opts ...openailike.Option) *Provider {
	opts = append([]openailike.Option{openailike.WithModel(DefaultModel)}, opts...)
	return &Provider{
		Provider: openailike.New(providerInfo, opts...),
	}
}

// NewFromConfig creates a provider from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.ChatProvider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return openailike.NewFromConfig(providerInfo, cfg)
}
