package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthmind/hearth/internal/memory"
	"github.com/hearthmind/hearth/internal/mood"
	"github.com/hearthmind/hearth/internal/profile"
	"github.com/hearthmind/hearth/internal/ratelimit"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewFromDB(db), mock
}

func TestGetUserLimits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT user_id, requests_today, max_requests_per_day, is_premium").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "requests_today", "max_requests_per_day", "is_premium"}).
			AddRow("u1", 12, 50, false))

	limits, err := store.GetUserLimits(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, limits)
	assert.Equal(t, 12, limits.RequestsToday)
	assert.Equal(t, 50, limits.MaxPerDay)
	assert.False(t, limits.IsPremium)
}

func TestGetUserLimits_NoRowIsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT user_id, requests_today, max_requests_per_day, is_premium").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "requests_today", "max_requests_per_day", "is_premium"}))

	limits, err := store.GetUserLimits(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, limits)
}

func TestCreateUserLimits_TolerantOfConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO user_limits").
		WithArgs("u1", 0, 50, false).
		WillReturnResult(sqlmock.NewResult(0, 0)) // conflict: existing row wins

	err := store.CreateUserLimits(context.Background(), &ratelimit.UserLimits{UserID: "u1", MaxPerDay: 50})
	require.NoError(t, err)
}

func TestIncrementRequests_ReturnsUpdatedCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE user_limits").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"requests_today"}).AddRow(13))

	after, err := store.IncrementRequests(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 13, after)
}

func TestGetPersona_NoRowIsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, creator_id, name, visibility, system_prompt").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "creator_id", "name", "visibility", "system_prompt"}))

	p, err := store.GetPersona(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestUpsertMoodState_NullsEmptyTopic(t *testing.T) {
	store, mock := newMockStore(t)
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO persona_mood_state").
		WithArgs("u1", "p1", 0.8, 0.6, 0.1, nil, nil, 0, last, last).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertMoodState(context.Background(), &mood.State{
		UserID: "u1", PersonaID: "p1",
		SocialBattery: 0.8, InterestVector: 0.6, Melancholy: 0.1,
		LastInteraction: last, SessionStart: last,
	})
	require.NoError(t, err)
}

func TestLatestEpisode_ScansMetadata(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery("FROM memories_episodes").
		WithArgs("u1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "persona_id", "topic_summary", "start_time", "end_time", "metadata"}).
			AddRow("ep1", "u1", "p1", "Conversation about code", start, end, `{"domain":"code"}`))

	ep, err := store.LatestEpisode(context.Background(), "u1", "p1")
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, "ep1", ep.ID)
	assert.Equal(t, end, ep.EndTime)
	assert.Equal(t, map[string]any{"domain": "code"}, ep.Metadata)
}

func TestLatestEpisode_NoRowIsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM memories_episodes").
		WithArgs("u1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "persona_id", "topic_summary", "start_time", "end_time", "metadata"}))

	ep, err := store.LatestEpisode(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Nil(t, ep)
}

func TestTouchEpisode(t *testing.T) {
	store, mock := newMockStore(t)
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE memories_episodes SET end_time").
		WithArgs(end, "ep1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.TouchEpisode(context.Background(), "ep1", end))
}

func TestInsertEpisode_WritesMetadataJSON(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO memories_episodes").
		WithArgs("ep1", "u1", "p1", "Conversation about code", now, now, `{"domain":"code"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := store.InsertEpisode(context.Background(), &memory.Episode{
		ID: "ep1", UserID: "u1", PersonaID: "p1",
		TopicSummary: "Conversation about code",
		StartTime:    now, EndTime: now,
		Metadata: map[string]any{"domain": "code"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ep1", id)
}

func TestInsertMemory_SerializesVectorAndSignals(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO memories").
		WithArgs("m1", "u1", "p1", "ep1", "user", "the deploy broke",
			"[0.5,-1]", `{"domain":"code","emotion":"negative","importance":7}`, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.InsertMemory(context.Background(), &memory.Record{
		ID: "m1", UserID: "u1", PersonaID: "p1", EpisodeID: "ep1",
		Role: "user", Content: "the deploy broke",
		Embedding: []float32{0.5, -1},
		Signals:   &memory.Signals{Domain: "code", Emotion: "negative", Importance: 7},
		CreatedAt: now,
	})
	require.NoError(t, err)
}

func TestInsertMemory_NullEmbeddingAndSignals(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO memories").
		WithArgs("m2", "u1", "p1", nil, "assistant", "hi", nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.InsertMemory(context.Background(), &memory.Record{
		ID: "m2", UserID: "u1", PersonaID: "p1",
		Role: "assistant", Content: "hi", CreatedAt: now,
	})
	require.NoError(t, err)
}

func TestSearchMemories_CallsHybridProcedure(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 2, 14, 18, 30, 0, 0, time.UTC)

	mock.ExpectQuery("FROM match_memories_v3").
		WithArgs("[1,0,0]", "cat", 0.3, 10, "p1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "content", "created_at", "similarity"}).
			AddRow("user", "I adopted a cat named Miso", created, 0.92).
			AddRow("assistant", "Miso sounds adorable!", created, 0.85))

	hits, err := store.SearchMemories(context.Background(), []float32{1, 0, 0}, "cat", 0.3, 10, "p1", "u1")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "user", hits[0].Role)
	assert.Equal(t, 0.92, hits[0].Similarity)
	assert.Equal(t, created, hits[1].CreatedAt)
}

func TestCountMessages(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("u1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := store.CountMessages(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestUpsertEntity_KeyedOnTriple(t *testing.T) {
	store, mock := newMockStore(t)
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO user_profile_graph").
		WithArgs("u1", "Maya", "person", `{"confidence":0.9,"description":"sister"}`, last).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertEntity(context.Background(), &profile.Entity{
		UserID: "u1", Name: "Maya", Type: "person",
		Description: "sister", Confidence: 0.9, LastUpdated: &last,
	})
	require.NoError(t, err)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1,0.25]", vectorLiteral([]float32{0.5, -1, 0.25}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}

func TestNullVector(t *testing.T) {
	assert.Nil(t, nullVector(nil))
	assert.Equal(t, "[1]", nullVector([]float32{1}))
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("x").Valid)
	assert.False(t, nullTime(time.Time{}).Valid)
	assert.True(t, nullTime(time.Now()).Valid)
	assert.Nil(t, nullJSON(nil))
	assert.Equal(t, `{"domain":"code"}`, nullJSON(&memory.Signals{Domain: "code"}))
}
