// Package extraction runs the best-effort post-turn job that mines an
// exchange for profile graph entities and an episode story beat.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/hearthmind/hearth/internal/metrics"
	"github.com/hearthmind/hearth/internal/profile"
	"github.com/hearthmind/hearth/pkg/types"
)

// LLMClient is the slice of a chat provider this package needs.
type LLMClient interface {
	ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
}

// GraphStore receives the extraction job's writes.
type GraphStore interface {
	// UpsertEntity overwrites any prior entity with the same
	// (user_id, name, type) key.
	UpsertEntity(ctx context.Context, entity *profile.Entity) error
	// UpdateEpisodeSummary overwrites the episode's topic summary.
	UpdateEpisodeSummary(ctx context.Context, episodeID, summary string) error
}

// Result is the structured output the extraction prompt demands.
type Result struct {
	Entities  []resultEntity `json:"entities"`
	StoryBeat string         `json:"story_beat"`
}

type resultEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data struct {
		Description string  `json:"description"`
		Confidence  float64 `json:"confidence"`
	} `json:"data"`
}

const extractionPrompt = `You are a memory extraction system for an AI companion. Analyze the exchange below and extract durable facts about the user.

Rules:
1. Extract only standalone, durable facts (people, places, preferences, life facts). Ignore small talk.
2. Entity type must be one of: "person", "place", "preference", "fact".
3. Also write one sentence summarizing what this part of the conversation was about ("story_beat").
4. Output JSON only, exactly in this shape:
{"entities": [{"name": "...", "type": "...", "data": {"description": "...", "confidence": 0.9}}], "story_beat": "..."}
If nothing is worth remembering, output {"entities": [], "story_beat": ""}.

User said: %q
Companion replied: %q`

// Extractor asks an LLM for a structured read of one exchange.
type Extractor struct {
	client LLMClient
	model  string
}

// NewExtractor creates an Extractor using the given model.
func NewExtractor(client LLMClient, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// Extract sends the exchange to the LLM and parses its structured reply.
func (e *Extractor) Extract(ctx context.Context, userText, aiResponse string) (*Result, error) {
	req := &types.ChatRequest{
		Model: e.model,
		Messages: []types.ChatMessage{
			{Role: "system", Content: "You are a precise extraction system that outputs JSON only."},
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, userText, aiResponse)},
		},
		Temperature:    types.Float64Ptr(0.0),
		MaxTokens:      512,
		ResponseFormat: &types.ResponseFormat{Type: "json_object"},
	}

	resp, err := e.client.ChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}
	content := resp.Content()
	if content == "" {
		return nil, fmt.Errorf("extraction returned no content")
	}
	return ParseResult(content)
}

// ParseResult parses the first JSON object found in the text. Models wrap
// their output in prose or markdown fences often enough that a strict parse
// of the whole body is not workable.
func ParseResult(text string) (*Result, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in extraction output")
	}
	end := strings.LastIndexByte(text, '}')
	if end <= start {
		return nil, fmt.Errorf("unterminated JSON object in extraction output")
	}
	var result Result
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("parse extraction output: %w", err)
	}
	return &result, nil
}

// Job is one pending extraction, queued after the user already has a reply.
type Job struct {
	UserID     string
	UserText   string
	AIResponse string
	EpisodeID  string
}

// Apply writes an extraction result to the graph. Entities with empty names
// or unknown types are skipped; a non-empty story beat overwrites the
// episode summary when an episode is linked.
func Apply(ctx context.Context, store GraphStore, userID, episodeID string, result *Result, logger *slog.Logger) {
	now := time.Now().UTC()
	for _, e := range result.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" || !validEntityType(e.Type) {
			continue
		}
		entity := &profile.Entity{
			UserID:      userID,
			Name:        name,
			Type:        e.Type,
			Description: e.Data.Description,
			Confidence:  e.Data.Confidence,
			LastUpdated: &now,
		}
		if err := store.UpsertEntity(ctx, entity); err != nil {
			logger.Warn("entity upsert failed", "user_id", userID, "entity", name, "error", err)
			continue
		}
		metrics.EntitiesExtracted.Inc()
	}
	if episodeID != "" && strings.TrimSpace(result.StoryBeat) != "" {
		if err := store.UpdateEpisodeSummary(ctx, episodeID, result.StoryBeat); err != nil {
			logger.Warn("episode summary update failed", "episode_id", episodeID, "error", err)
		}
	}
}

func validEntityType(t string) bool {
	switch t {
	case profile.EntityPerson, profile.EntityPlace, profile.EntityPreference, profile.EntityFact:
		return true
	}
	return false
}
