package hearth

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hearthmind/hearth/internal/mood"
	"github.com/hearthmind/hearth/internal/ratelimit"
	"github.com/hearthmind/hearth/pkg/provider"
)

// EngineConfig holds all tuning for the engine.
type EngineConfig struct {
	// Model is the completion model requested from the chat provider. Empty
	// lets the provider fill in its default.
	Model string

	// ExtractionModel is used for post-turn extraction; defaults to Model.
	ExtractionModel string

	// MaxTokens caps the primary completion.
	MaxTokens int

	// Temperature for the primary completion.
	Temperature float64

	// Mood holds decay and session tuning.
	Mood mood.Config

	// EpisodeReuseWindow overrides the episodic memory reuse window.
	EpisodeReuseWindow time.Duration

	// CognitiveDrift is the per-turn Bernoulli probability of the drift
	// directive. Zero disables it.
	CognitiveDrift float64

	// TopicExhaustionLimit is the work-topic dwell time after which a break
	// may be suggested.
	TopicExhaustionLimit time.Duration

	// ExtractionJobsPerSec throttles the post-turn extraction runner.
	ExtractionJobsPerSec float64

	Logger *slog.Logger
	Tracer trace.Tracer

	// Limiter overrides the store-backed daily rate limiter.
	Limiter ratelimit.Limiter

	// Embedder computes query and memory embeddings. Nil degrades retrieval
	// to no memory context.
	Embedder provider.Embedder

	// Clock and Rand are injectable for tests.
	Clock func() time.Time
	Rand  func() float64
}

func defaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxTokens:            1024,
		Temperature:          0.8,
		Mood:                 mood.DefaultConfig(),
		TopicExhaustionLimit: 30 * time.Minute,
		ExtractionJobsPerSec: 1,
		Logger:               slog.Default(),
		Clock:                time.Now,
	}
}

// Option configures the engine.
type Option func(*EngineConfig)

// WithModel sets the completion model.
func WithModel(model string) Option {
	return func(c *EngineConfig) { c.Model = model }
}

// WithExtractionModel sets the model used for post-turn extraction.
func WithExtractionModel(model string) Option {
	return func(c *EngineConfig) { c.ExtractionModel = model }
}

// WithMaxTokens caps the primary completion.
func WithMaxTokens(n int) Option {
	return func(c *EngineConfig) { c.MaxTokens = n }
}

// WithTemperature sets the completion temperature.
func WithTemperature(t float64) Option {
	return func(c *EngineConfig) { c.Temperature = t }
}

// WithEmbedder sets the embedding provider.
func WithEmbedder(e provider.Embedder) Option {
	return func(c *EngineConfig) { c.Embedder = e }
}

// WithLimiter overrides the daily rate limiter, e.g. with the Redis-backed
// one for multi-instance deployments.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *EngineConfig) { c.Limiter = l }
}

// WithMoodConfig tunes mood decay and session behavior.
func WithMoodConfig(cfg mood.Config) Option {
	return func(c *EngineConfig) { c.Mood = cfg }
}

// WithEpisodeReuseWindow overrides the episodic memory reuse window.
func WithEpisodeReuseWindow(d time.Duration) Option {
	return func(c *EngineConfig) { c.EpisodeReuseWindow = d }
}

// WithCognitiveDrift sets the drift directive probability.
func WithCognitiveDrift(p float64) Option {
	return func(c *EngineConfig) { c.CognitiveDrift = p }
}

// WithTopicExhaustionLimit sets the work-topic dwell limit.
func WithTopicExhaustionLimit(d time.Duration) Option {
	return func(c *EngineConfig) { c.TopicExhaustionLimit = d }
}

// WithExtractionRate throttles the extraction runner.
func WithExtractionRate(jobsPerSecond float64) Option {
	return func(c *EngineConfig) { c.ExtractionJobsPerSec = jobsPerSecond }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *EngineConfig) { c.Logger = l }
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *EngineConfig) { c.Tracer = t }
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *EngineConfig) { c.Clock = now }
}

// WithRand injects an RNG returning values in [0,1), for tests.
func WithRand(r func() float64) Option {
	return func(c *EngineConfig) { c.Rand = r }
}
