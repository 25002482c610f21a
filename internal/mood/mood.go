// Package mood persists and evolves a per-(user, persona) affect state:
// social battery, melancholy, and topic dwell tracking. The state survives
// across sessions and is re-seeded with randomized "brain weather" after a
// long enough gap. Mood is a soft signal: concurrent turns may clobber each
// other's delta (last write wins) and storage failures degrade to an
// unpersisted default rather than failing the turn.
package mood

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/hearthmind/hearth/internal/signal"
)

// State holds the simulated affect variables for one (user, persona) pair.
// All bounded scalars live in [0,1] and are clamped on every update.
type State struct {
	UserID          string    `json:"user_id"`
	PersonaID       string    `json:"persona_id"`
	SocialBattery   float64   `json:"social_battery"`
	InterestVector  float64   `json:"interest_vector"`
	Melancholy      float64   `json:"melancholy_threshold"`
	TopicDomain     string    `json:"current_topic_domain"`
	TopicStartTime  time.Time `json:"topic_start_time"`
	TopicTokenCount int       `json:"topic_token_count"`
	LastInteraction time.Time `json:"last_interaction"`
	SessionStart    time.Time `json:"session_start"`
}

// Store persists mood state. GetMoodState returns (nil, nil) when no state
// exists yet for the pair.
type Store interface {
	GetMoodState(ctx context.Context, userID, personaID string) (*State, error)
	UpsertMoodState(ctx context.Context, st *State) error
}

// Config controls decay and session behavior.
type Config struct {
	// SessionGap is the idle duration after which a new session starts and
	// brain weather is re-rolled. Independent from the episode reuse window.
	SessionGap time.Duration

	// BaseDrain is the battery cost of one message.
	BaseDrain float64

	// SocialExhaustion amplifies drain for code/business messages:
	// drain = BaseDrain * (1 + SocialExhaustion).
	SocialExhaustion float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		SessionGap: 4 * time.Hour,
		BaseDrain:  0.02,
	}
}

// Engine advances mood state. The clock and RNG are injectable for tests.
type Engine struct {
	store  Store
	cfg    Config
	now    func() time.Time
	rand   func() float64
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand injects an RNG returning values in [0,1).
func WithRand(r func() float64) Option {
	return func(e *Engine) { e.rand = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a mood engine backed by store.
func NewEngine(store Store, cfg Config, opts ...Option) *Engine {
	if cfg.SessionGap <= 0 {
		cfg.SessionGap = 4 * time.Hour
	}
	if cfg.BaseDrain <= 0 {
		cfg.BaseDrain = 0.02
	}
	e := &Engine{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		rand:   rand.Float64,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LoadOrAdvance fetches the pair's mood state, creating it with rolled brain
// weather on first contact and re-rolling across a session boundary. The
// returned state is always usable: storage failures fall back to a fresh
// unpersisted state.
func (e *Engine) LoadOrAdvance(ctx context.Context, userID, personaID string) *State {
	now := e.now()
	st, err := e.store.GetMoodState(ctx, userID, personaID)
	if err != nil {
		e.logger.Warn("mood state load failed, using fresh state",
			"user_id", userID, "persona_id", personaID, "error", err)
		st = nil
	}

	if st == nil {
		st = &State{
			UserID:          userID,
			PersonaID:       personaID,
			InterestVector:  0.5,
			TopicDomain:     signal.DomainPersonal,
			TopicStartTime:  now,
			LastInteraction: now,
			SessionStart:    now,
		}
		e.rollWeather(st)
		e.persist(ctx, st)
		return st
	}

	if now.Sub(st.LastInteraction) > e.cfg.SessionGap {
		// New session: melancholy is re-rolled, battery recovers partially.
		battery := st.SocialBattery
		e.rollWeather(st)
		st.SocialBattery = clamp01(max64(0.5, battery+0.3))
		st.SessionStart = now
		e.persist(ctx, st)
	}
	return st
}

// rollWeather seeds melancholy and battery: 5% tired start, 5% energized,
// 90% neutral.
func (e *Engine) rollWeather(st *State) {
	r := e.rand()
	switch {
	case r < 0.05:
		st.Melancholy = 0.3 + e.rand()*0.3
		st.SocialBattery = 0.3 + e.rand()*0.3
	case r < 0.10:
		st.Melancholy = 0
		st.SocialBattery = 0.9 + e.rand()*0.1
	default:
		st.Melancholy = 0
		st.SocialBattery = 1.0
	}
	st.Melancholy = clamp01(st.Melancholy)
	st.SocialBattery = clamp01(st.SocialBattery)
}

// Update applies the per-turn drain and topic dwell accounting for one
// message in domain with the given token count, then persists.
func (e *Engine) Update(ctx context.Context, st *State, domain string, tokens int) {
	now := e.now()

	drain := e.cfg.BaseDrain
	if domain == signal.DomainCode || domain == signal.DomainBusiness {
		drain *= 1 + e.cfg.SocialExhaustion
	}
	st.SocialBattery = clamp01(st.SocialBattery - drain)

	if domain != st.TopicDomain {
		st.TopicDomain = domain
		st.TopicTokenCount = tokens
		st.TopicStartTime = now
	} else {
		st.TopicTokenCount += tokens
	}
	st.LastInteraction = now

	e.persist(ctx, st)
}

func (e *Engine) persist(ctx context.Context, st *State) {
	if err := e.store.UpsertMoodState(ctx, st); err != nil {
		e.logger.Warn("mood state persist failed",
			"user_id", st.UserID, "persona_id", st.PersonaID, "error", err)
	}
}

// Context renders the mood directives for the system prompt. Returns an
// empty string when no threshold is crossed.
func Context(st *State) string {
	if st == nil {
		return ""
	}
	var lines []string
	if st.SocialBattery < 0.3 {
		lines = append(lines, "Your social battery is drained. Be concise; shorter replies are fine.")
	}
	if st.Melancholy > 0.3 {
		lines = append(lines, "You feel introspective today. Let a quieter, more metaphorical register through.")
	}
	if st.SocialBattery > 0.8 && st.Melancholy < 0.1 {
		lines = append(lines, "You feel energized. Be expressive and playful.")
	}
	return joinLines(lines)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
