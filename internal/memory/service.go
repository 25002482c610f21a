package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Retrieval tuning. The reuse window is deliberately separate from the mood
// session gap even though both default to four hours.
const (
	DefaultReuseWindow         = 4 * time.Hour
	DefaultSimilarityThreshold = 0.3
	DefaultSearchLimit         = 10
	DefaultEpisodeAnchors      = 5
)

// Service wraps a Store with the episode reuse policy and retrieval
// formatting.
type Service struct {
	store       Store
	reuseWindow time.Duration
	threshold   float64
	searchLimit int
	now         func() time.Time
	logger      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithReuseWindow overrides the episode reuse window.
func WithReuseWindow(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.reuseWindow = d
		}
	}
}

// WithClock injects a clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a memory service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		reuseWindow: DefaultReuseWindow,
		threshold:   DefaultSimilarityThreshold,
		searchLimit: DefaultSearchLimit,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreateEpisode returns the id of the active episode for the pair,
// reusing the most recent one when it ended within the reuse window and
// bumping its end time, otherwise inserting a fresh one. Returns "" on
// storage failure; callers must tolerate an unlinked memory.
//
// Two concurrent turns can both decide to create an episode; a duplicate is
// a tolerable degradation, not a failure.
func (s *Service) GetOrCreateEpisode(ctx context.Context, userID, personaID, domain string) string {
	now := s.now()

	latest, err := s.store.LatestEpisode(ctx, userID, personaID)
	if err != nil {
		s.logger.Warn("episode lookup failed", "user_id", userID, "persona_id", personaID, "error", err)
	}
	if latest != nil && now.Sub(latest.EndTime) < s.reuseWindow {
		if err := s.store.TouchEpisode(ctx, latest.ID, now); err != nil {
			s.logger.Warn("episode touch failed", "episode_id", latest.ID, "error", err)
		}
		return latest.ID
	}

	ep := &Episode{
		ID:           uuid.New().String(),
		UserID:       userID,
		PersonaID:    personaID,
		TopicSummary: fmt.Sprintf("Conversation about %s", domain),
		StartTime:    now,
		EndTime:      now,
		Metadata:     map[string]any{"domain": domain},
	}
	id, err := s.store.InsertEpisode(ctx, ep)
	if err != nil {
		s.logger.Warn("episode insert failed", "user_id", userID, "persona_id", personaID, "error", err)
		return ""
	}
	return id
}

// Retrieve runs the two-stage lookup: recent episodes as coarse anchors,
// then hybrid search over granular records, formatted for the prompt.
// A nil embedding skips retrieval entirely (degraded turn), without touching
// the store. Episode anchors are emitted even when the hybrid search comes
// back empty; only when both stages are empty is no memory block emitted.
func (s *Service) Retrieve(ctx context.Context, embedding []float32, personaID, userID, query string) string {
	if embedding == nil {
		return ""
	}

	episodes, err := s.store.RecentEpisodes(ctx, userID, personaID, DefaultEpisodeAnchors)
	if err != nil {
		s.logger.Warn("episode retrieval failed", "user_id", userID, "error", err)
	}

	hits, err := s.store.SearchMemories(ctx, embedding, query, s.threshold, s.searchLimit, personaID, userID)
	if err != nil {
		s.logger.Warn("memory search failed", "user_id", userID, "error", err)
		hits = nil
	}

	anchors := formatEpisodes(episodes)
	if anchors == "" && len(hits) == 0 {
		return ""
	}

	var b strings.Builder
	if anchors != "" {
		b.WriteString(anchors)
	}
	for i, h := range hits {
		if i > 0 || anchors != "" {
			b.WriteString("\n\n")
		}
		b.WriteString(formatHit(h))
	}
	return b.String()
}

// Exchange is one completed user/assistant round trip ready to be persisted.
// Signals carry the classifier outputs for the user utterance; the assistant
// record stays untagged.
type Exchange struct {
	UserID         string
	PersonaID      string
	EpisodeID      string
	UserText       string
	Reply          string
	UserEmbedding  []float32
	ReplyEmbedding []float32
	Signals        *Signals
}

// StoreExchange persists the user utterance and the assistant reply as two
// granular records linked to the exchange's episode. Missing embeddings are
// stored as null vectors; failures are logged and swallowed so the reply
// already sent to the user is unaffected.
func (s *Service) StoreExchange(ctx context.Context, ex *Exchange) {
	now := s.now()
	records := []*Record{
		{
			ID:        uuid.New().String(),
			UserID:    ex.UserID,
			PersonaID: ex.PersonaID,
			EpisodeID: ex.EpisodeID,
			Role:      "user",
			Content:   ex.UserText,
			Embedding: ex.UserEmbedding,
			Signals:   ex.Signals,
			CreatedAt: now,
		},
		{
			ID:        uuid.New().String(),
			UserID:    ex.UserID,
			PersonaID: ex.PersonaID,
			EpisodeID: ex.EpisodeID,
			Role:      "assistant",
			Content:   ex.Reply,
			Embedding: ex.ReplyEmbedding,
			CreatedAt: now,
		},
	}
	for _, rec := range records {
		if err := s.store.InsertMemory(ctx, rec); err != nil {
			s.logger.Warn("memory insert failed", "user_id", ex.UserID, "role", rec.Role, "error", err)
		}
	}
}

// MessageCount returns the pair's total message count, zero on failure.
func (s *Service) MessageCount(ctx context.Context, userID, personaID string) int {
	n, err := s.store.CountMessages(ctx, userID, personaID)
	if err != nil {
		s.logger.Warn("message count failed", "user_id", userID, "error", err)
		return 0
	}
	return n
}

func formatHit(h *Hit) string {
	who := "User"
	if h.Role == "assistant" {
		who = "AI"
	}
	return fmt.Sprintf("[Conversation from %s]\n%s: %s", h.CreatedAt.Format("Jan 2, 2006"), who, h.Content)
}

func formatEpisodes(episodes []*Episode) string {
	if len(episodes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent conversation threads:")
	for _, ep := range episodes {
		b.WriteString("\n- ")
		b.WriteString(ep.TopicSummary)
		b.WriteString(" (")
		b.WriteString(ep.EndTime.Format("Jan 2, 2006"))
		b.WriteString(")")
	}
	return b.String()
}
