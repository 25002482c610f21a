package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthmind/hearth/internal/memory"
	"github.com/hearthmind/hearth/internal/profile"
)

func TestSearchMemories_HybridRanking(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertMemory(ctx, &memory.Record{
		UserID: "u1", PersonaID: "p1", Role: "user",
		Content: "I started learning the cello", Embedding: []float32{1, 0, 0}, CreatedAt: now,
	}))
	require.NoError(t, s.InsertMemory(ctx, &memory.Record{
		UserID: "u1", PersonaID: "p1", Role: "user",
		Content: "deploy scripts are broken again", Embedding: []float32{0, 1, 0}, CreatedAt: now,
	}))
	require.NoError(t, s.InsertMemory(ctx, &memory.Record{
		UserID: "u2", PersonaID: "p1", Role: "user",
		Content: "other user's cello memory", Embedding: []float32{1, 0, 0}, CreatedAt: now,
	}))

	hits, err := s.SearchMemories(ctx, []float32{1, 0, 0}, "cello", 0.3, 10, "p1", "u1")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "I started learning the cello", hits[0].Content)
	assert.Greater(t, hits[0].Similarity, 1.0) // cosine 1.0 plus lexical bonus
}

func TestSearchMemories_ThresholdAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, s.InsertMemory(ctx, &memory.Record{
			UserID: "u1", PersonaID: "p1", Role: "user",
			Content: "same topic", Embedding: []float32{1, 0, 0},
		}))
	}
	hits, err := s.SearchMemories(ctx, []float32{1, 0, 0}, "", 0.3, 10, "p1", "u1")
	require.NoError(t, err)
	assert.Len(t, hits, 10)

	hits, err = s.SearchMemories(ctx, []float32{0, 0, 1}, "", 0.3, 10, "p1", "u1")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEpisodeLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	id, err := s.InsertEpisode(ctx, &memory.Episode{
		UserID: "u1", PersonaID: "p1", TopicSummary: "Conversation about code",
		StartTime: start, EndTime: start,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	latest, err := s.LatestEpisode(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)

	require.NoError(t, s.TouchEpisode(ctx, id, start.Add(time.Hour)))
	latest, _ = s.LatestEpisode(ctx, "u1", "p1")
	assert.Equal(t, start.Add(time.Hour), latest.EndTime)

	require.NoError(t, s.UpdateEpisodeSummary(ctx, id, "Debugging the deploy pipeline"))
	latest, _ = s.LatestEpisode(ctx, "u1", "p1")
	assert.Equal(t, "Debugging the deploy pipeline", latest.TopicSummary)
}

func TestUpsertEntity_LastWriteWins(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, &profile.Entity{
		UserID: "u1", Name: "Maya", Type: profile.EntityPerson, Description: "sister",
	}))
	require.NoError(t, s.UpsertEntity(ctx, &profile.Entity{
		UserID: "u1", Name: "Maya", Type: profile.EntityPerson, Description: "sister, lives in Austin",
	}))

	entities, err := s.ListEntities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "sister, lives in Austin", entities[0].Description)
}

func TestRecentUtterances_ExcludesActivePersona(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertMemory(ctx, &memory.Record{
		UserID: "u1", PersonaID: "other", Role: "user", Content: "hi there", CreatedAt: now,
	}))
	require.NoError(t, s.InsertMemory(ctx, &memory.Record{
		UserID: "u1", PersonaID: "active", Role: "user", Content: "should not appear", CreatedAt: now,
	}))
	require.NoError(t, s.InsertMemory(ctx, &memory.Record{
		UserID: "u1", PersonaID: "other", Role: "assistant", Content: "reply", CreatedAt: now,
	}))

	utterances, err := s.RecentUtterances(ctx, "u1", "active", now.Add(-time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, utterances, 1)
	assert.Equal(t, "hi there", utterances[0].Content)
}

func TestIncrementRequests_CreatesRowOnDemand(t *testing.T) {
	s := New()
	after, err := s.IncrementRequests(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, after)
}
