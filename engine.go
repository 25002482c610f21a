package hearth

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hearthmind/hearth/internal/access"
	"github.com/hearthmind/hearth/internal/extraction"
	"github.com/hearthmind/hearth/internal/memory"
	"github.com/hearthmind/hearth/internal/metrics"
	"github.com/hearthmind/hearth/internal/mood"
	"github.com/hearthmind/hearth/internal/persona"
	"github.com/hearthmind/hearth/internal/profile"
	"github.com/hearthmind/hearth/internal/prompt"
	"github.com/hearthmind/hearth/internal/ratelimit"
	"github.com/hearthmind/hearth/internal/relationship"
	"github.com/hearthmind/hearth/internal/signal"
	"github.com/hearthmind/hearth/pkg/errors"
	"github.com/hearthmind/hearth/pkg/provider"
	"github.com/hearthmind/hearth/pkg/types"
)

// Store is the full persistence contract the engine needs. Both the postgres
// and inmem stores satisfy it.
type Store interface {
	ratelimit.Store
	access.Store
	mood.Store
	memory.Store
	profile.Store
	extraction.GraphStore
}

// TurnRequest is one user message addressed to one or more personas.
type TurnRequest struct {
	UserID     string              `json:"user_id"`
	PersonaIDs []string            `json:"persona_ids"`
	Message    string              `json:"message"`
	History    []types.ChatMessage `json:"history,omitempty"`
}

// TurnResult is the engine's reply to a turn.
type TurnResult struct {
	Reply        string     `json:"reply"`
	PersonaID    string     `json:"persona_id"`
	EpisodeID    string     `json:"episode_id,omitempty"`
	Relationship string     `json:"relationship"`
	Remaining    int        `json:"remaining"`
	Mood         *MoodState `json:"mood,omitempty"`
}

// Engine runs the turn pipeline. It is safe for concurrent use; all
// cross-turn state lives in the Store.
type Engine struct {
	store    Store
	chat     provider.ChatProvider
	embedder provider.Embedder
	limiter  ratelimit.Limiter
	access   *access.Checker
	moods    *mood.Engine
	memories *memory.Service
	profiles *profile.Service
	runner   *extraction.Runner
	cfg      *EngineConfig
	behavior atomic.Pointer[behaviorConfig]
	logger   *slog.Logger
	tracer   trace.Tracer
	rand     func() float64
	clock    func() time.Time
}

// behaviorConfig holds the tunables that may change under config hot reload.
type behaviorConfig struct {
	drift      float64
	exhaustion time.Duration
}

// New creates an engine over the given store and chat provider.
func New(store Store, chat provider.ChatProvider, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.NewInternalError("store is required")
	}
	if chat == nil {
		return nil, errors.NewInternalError("chat provider is required")
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Float64
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewStoreLimiter(store)
	}

	moodOpts := []mood.Option{mood.WithLogger(cfg.Logger), mood.WithClock(cfg.Clock), mood.WithRand(rnd)}
	memOpts := []memory.ServiceOption{memory.WithLogger(cfg.Logger), memory.WithClock(cfg.Clock)}
	if cfg.EpisodeReuseWindow > 0 {
		memOpts = append(memOpts, memory.WithReuseWindow(cfg.EpisodeReuseWindow))
	}

	e := &Engine{
		store:    store,
		chat:     chat,
		embedder: cfg.Embedder,
		limiter:  limiter,
		access:   access.NewChecker(store),
		moods:    mood.NewEngine(store, cfg.Mood, moodOpts...),
		memories: memory.NewService(store, memOpts...),
		profiles: profile.NewService(store),
		cfg:      cfg,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		rand:     rnd,
		clock:    cfg.Clock,
	}

	e.behavior.Store(&behaviorConfig{
		drift:      cfg.CognitiveDrift,
		exhaustion: cfg.TopicExhaustionLimit,
	})

	extractionModel := cfg.ExtractionModel
	if extractionModel == "" {
		extractionModel = cfg.Model
	}
	e.runner = extraction.NewRunner(
		extraction.NewExtractor(chat, extractionModel),
		store, cfg.Logger, cfg.ExtractionJobsPerSec,
	)

	return e, nil
}

// Wait blocks until all in-flight extraction jobs finish, for shutdown.
func (e *Engine) Wait() {
	e.runner.Wait()
}

// SetBehavior swaps the drift probability and topic exhaustion limit, for
// config hot reload. Safe to call while turns are in flight.
func (e *Engine) SetBehavior(drift float64, exhaustion time.Duration) {
	if drift < 0 {
		drift = 0
	}
	if drift > 1 {
		drift = 1
	}
	e.behavior.Store(&behaviorConfig{drift: drift, exhaustion: exhaustion})
}

// ProcessTurn runs the full pipeline for one message and returns the reply.
// Rate limit and access failures deny the turn before dispatch; context
// assembly degrades piecewise; only the primary completion call can surface
// an upstream error to the caller.
func (e *Engine) ProcessTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	start := e.clock()
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "hearth.ProcessTurn",
			trace.WithAttributes(attribute.String("user.id", req.UserID)))
		defer span.End()
	}

	turn, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	chatReq := &types.ChatRequest{
		Model:       e.cfg.Model,
		Messages:    turn.messages,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: types.Float64Ptr(e.cfg.Temperature),
		User:        req.UserID,
	}

	llmStart := e.clock()
	resp, err := e.chat.ChatCompletion(ctx, chatReq)
	metrics.LLMLatency.WithLabelValues(e.chat.Name(), e.cfg.Model).Observe(e.clock().Sub(llmStart).Seconds())
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	reply := resp.Content()
	if reply == "" {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, errors.NewProviderError(e.chat.Name(), e.cfg.Model, "completion returned no content", 0)
	}

	e.finish(ctx, turn, reply)

	metrics.TurnsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.TurnLatency.Observe(e.clock().Sub(start).Seconds())

	return &TurnResult{
		Reply:        reply,
		PersonaID:    turn.primary.ID,
		EpisodeID:    turn.episodeID,
		Relationship: relationship.ForCount(turn.messageCount).Name,
		Remaining:    turn.remaining,
		Mood:         turn.state,
	}, nil
}

// ProcessTurnStream is ProcessTurn with a streamed reply. The exchange is
// persisted and extraction dispatched once the stream is fully consumed.
func (e *Engine) ProcessTurnStream(ctx context.Context, req *TurnRequest) (provider.StreamHandler, error) {
	turn, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	chatReq := &types.ChatRequest{
		Model:       e.cfg.Model,
		Messages:    turn.messages,
		Stream:      true,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: types.Float64Ptr(e.cfg.Temperature),
		User:        req.UserID,
	}

	inner, err := e.chat.ChatCompletionStream(ctx, chatReq)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	return &turnStream{inner: inner, engine: e, turn: turn, ctx: ctx}, nil
}

// turnContext carries everything prepare assembled for one turn.
type turnContext struct {
	req          *TurnRequest
	primary      *persona.Persona
	state        *mood.State
	domain       string
	emotion      string
	importance   int
	tags         []string
	tokens       int
	episodeID    string
	embedding    []float32
	messageCount int
	remaining    int
	messages     []types.ChatMessage
}

// prepare runs everything before LLM dispatch: limits, access, mood, memory
// retrieval, and prompt composition.
func (e *Engine) prepare(ctx context.Context, req *TurnRequest) (*turnContext, error) {
	if req == nil || req.UserID == "" || req.Message == "" || len(req.PersonaIDs) == 0 {
		return nil, errors.NewInvalidRequestError("user_id, message, and at least one persona_id are required")
	}

	res, err := e.limiter.Check(ctx, req.UserID)
	if err != nil {
		return nil, errors.NewInternalError("rate limit check failed: " + err.Error())
	}
	if !res.Allowed {
		metrics.TurnsDenied.WithLabelValues(metrics.ReasonRateLimit).Inc()
		return nil, errors.NewRateLimitError("daily message limit reached")
	}

	personas := make([]*persona.Persona, 0, len(req.PersonaIDs))
	for _, id := range req.PersonaIDs {
		p, err := e.access.Check(ctx, id, req.UserID)
		if err != nil {
			metrics.TurnsDenied.WithLabelValues(metrics.ReasonAccess).Inc()
			return nil, err
		}
		personas = append(personas, p)
	}
	primary := personas[0]
	multi := len(personas) > 1

	st := e.moods.LoadOrAdvance(ctx, req.UserID, primary.ID)
	domain := signal.DetectDomain(req.Message)
	emotion := signal.DetectEmotion(req.Message)
	importance := signal.Importance(req.Message, domain)
	tags := signal.ExtractTags(req.Message)
	tokens := signal.EstimateTokens(req.Message)

	episodeID := e.memories.GetOrCreateEpisode(ctx, req.UserID, primary.ID, domain)

	retrievalStart := e.clock()
	var embedding []float32
	if e.embedder != nil {
		embedding, err = e.embedder.Embed(ctx, req.Message)
		if err != nil {
			metrics.EmbeddingFailures.Inc()
			e.logger.Warn("embedding failed, retrieval degraded", "user_id", req.UserID, "error", err)
			embedding = nil
		}
	}
	memoryBlock := e.memories.Retrieve(ctx, embedding, primary.ID, req.UserID, req.Message)
	metrics.RetrievalLatency.Observe(e.clock().Sub(retrievalStart).Seconds())

	messageCount := e.memories.MessageCount(ctx, req.UserID, primary.ID)

	behavior := e.behavior.Load()
	var directives []string
	if mood.ShouldTriggerDrift(behavior.drift, e.rand) {
		directives = append(directives, mood.DriftDirective)
	}
	if exhausted, suggestion := mood.CheckTopicExhaustion(st, behavior.exhaustion, e.clock(), e.rand); exhausted {
		directives = append(directives, suggestion)
	}

	blocks := prompt.Blocks{
		Personalization: e.profiles.Personalization(ctx, req.UserID, primary.ID),
		SharedFacts:     e.profiles.SharedFacts(ctx, req.UserID),
		Graph:           e.profiles.Graph(ctx, req.UserID),
		Memory:          memoryBlock,
		Mood:            mood.Context(st),
		Directives:      directives,
	}

	var system string
	if multi {
		lockets := e.fetchLockets(ctx, personas, req.UserID)
		system = prompt.BuildMulti(personas, lockets, blocks)
	} else {
		blocks.Relationship = relationship.Context(messageCount)
		blocks.Handoff = e.profiles.Handoff(ctx, req.UserID, primary.ID)
		system = prompt.BuildSingle(primary, blocks)
	}

	messages := make([]types.ChatMessage, 0, len(req.History)+2)
	messages = append(messages, types.ChatMessage{Role: "system", Content: system})
	messages = append(messages, req.History...)
	messages = append(messages, types.ChatMessage{Role: "user", Content: req.Message})

	return &turnContext{
		req:          req,
		primary:      primary,
		state:        st,
		domain:       domain,
		emotion:      emotion,
		importance:   importance,
		tags:         tags,
		tokens:       tokens,
		episodeID:    episodeID,
		embedding:    embedding,
		messageCount: messageCount,
		remaining:    res.Remaining,
		messages:     messages,
	}, nil
}

// finish runs everything after the user has their reply: persistence, mood
// update, and the fire-and-forget extraction job.
func (e *Engine) finish(ctx context.Context, turn *turnContext, reply string) {
	e.memories.StoreExchange(ctx, &memory.Exchange{
		UserID:        turn.req.UserID,
		PersonaID:     turn.primary.ID,
		EpisodeID:     turn.episodeID,
		UserText:      turn.req.Message,
		Reply:         reply,
		UserEmbedding: turn.embedding,
		Signals: &memory.Signals{
			Domain:     turn.domain,
			Emotion:    turn.emotion,
			Importance: turn.importance,
			Tags:       turn.tags,
		},
	})
	e.moods.Update(ctx, turn.state, turn.domain, turn.tokens)
	e.runner.Dispatch(extraction.Job{
		UserID:     turn.req.UserID,
		UserText:   turn.req.Message,
		AIResponse: reply,
		EpisodeID:  turn.episodeID,
	})
}

// fetchLockets loads every participating persona's locket concurrently.
func (e *Engine) fetchLockets(ctx context.Context, personas []*persona.Persona, userID string) map[string]string {
	lockets := make(map[string]string, len(personas))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range personas {
		wg.Add(1)
		go func(p *persona.Persona) {
			defer wg.Done()
			locket := e.profiles.Locket(ctx, p.ID, userID)
			mu.Lock()
			lockets[p.ID] = locket
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return lockets
}

// turnStream wraps the provider stream to accumulate the reply and run the
// post-turn work once the stream is drained.
type turnStream struct {
	inner  provider.StreamHandler
	engine *Engine
	turn   *turnContext
	ctx    context.Context

	reply    []byte
	finished bool
}

// Next returns the next chunk from the underlying stream.
func (s *turnStream) Next() (*types.StreamChunk, error) {
	chunk, err := s.inner.Next()
	if chunk != nil {
		for _, c := range chunk.Choices {
			s.reply = append(s.reply, c.Delta.Content...)
		}
	}
	if err != nil {
		s.finishOnce(err)
	}
	return chunk, err
}

// Close closes the underlying stream and runs post-turn persistence for
// whatever part of the reply was produced.
func (s *turnStream) Close() error {
	s.finishOnce(nil)
	return s.inner.Close()
}

// finishOnce settles the turn exactly once. io.EOF is normal stream end; any
// other error marks the turn failed even when a partial reply was produced.
// The partial reply is still persisted so the user's message is not lost.
func (s *turnStream) finishOnce(err error) {
	if s.finished {
		return
	}
	s.finished = true

	failed := err != nil && err != io.EOF
	if failed {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError).Inc()
	}
	if len(s.reply) == 0 {
		return
	}
	if !failed {
		metrics.TurnsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	s.engine.finish(s.ctx, s.turn, string(s.reply))
}
