// Package memory implements the two-tier conversation memory: coarse
// episodic summaries that segment a conversation in time, and granular
// utterance records with embeddings retrieved through hybrid
// (vector + lexical) search.
package memory

import (
	"context"
	"time"
)

// Episode is a coarse, time-bounded grouping of a conversation's turns.
// TopicSummary starts as a placeholder and is later overwritten by the
// post-turn extraction job.
type Episode struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	PersonaID    string         `json:"persona_id"`
	TopicSummary string         `json:"topic_summary"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Record is a single granular utterance. Immutable once written.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PersonaID string    `json:"persona_id"`
	EpisodeID string    `json:"episode_id,omitempty"`
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	Signals   *Signals  `json:"signals,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Signals are the advisory classifier outputs tagged onto a user record:
// conversation domain, emotional tone, importance score, extracted tags.
type Signals struct {
	Domain     string   `json:"domain,omitempty"`
	Emotion    string   `json:"emotion,omitempty"`
	Importance int      `json:"importance,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Hit is one result of hybrid search, ordered by the store's ranking.
type Hit struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Similarity float64   `json:"similarity"`
}

// Store is the persistence contract for both memory tiers.
type Store interface {
	// LatestEpisode returns the most recent episode for the pair by end
	// time, or (nil, nil) when none exists.
	LatestEpisode(ctx context.Context, userID, personaID string) (*Episode, error)

	// TouchEpisode bumps an episode's end time.
	TouchEpisode(ctx context.Context, episodeID string, end time.Time) error

	// InsertEpisode stores a new episode and returns its id.
	InsertEpisode(ctx context.Context, ep *Episode) (string, error)

	// RecentEpisodes returns up to limit episodes for the pair, most
	// recent first.
	RecentEpisodes(ctx context.Context, userID, personaID string, limit int) ([]*Episode, error)

	// InsertMemory stores one utterance record.
	InsertMemory(ctx context.Context, rec *Record) error

	// SearchMemories runs hybrid similarity+lexical search scoped to the
	// pair. Results come back in ranking order.
	SearchMemories(ctx context.Context, embedding []float32, query string, threshold float64, limit int, personaID, userID string) ([]*Hit, error)

	// CountMessages returns the total historical message count for the
	// pair, used for relationship tier derivation.
	CountMessages(ctx context.Context, userID, personaID string) (int, error)
}
