package hearth

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthmind/hearth/internal/metrics"
	"github.com/hearthmind/hearth/internal/persona"
	"github.com/hearthmind/hearth/internal/profile"
	"github.com/hearthmind/hearth/internal/ratelimit"
	"github.com/hearthmind/hearth/internal/store/inmem"
	hearthErrors "github.com/hearthmind/hearth/pkg/errors"
	"github.com/hearthmind/hearth/pkg/provider"
	"github.com/hearthmind/hearth/pkg/types"
)

// fakeChat answers the primary completion with a fixed reply and extraction
// calls (recognized by their JSON response format) with extraction output.
type fakeChat struct {
	reply          string
	extraction     string
	err            error
	stream         provider.StreamHandler
	lastSystem     string
	extractionSeen int
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) ChatCompletion(_ context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		f.extractionSeen++
		content := f.extraction
		if content == "" {
			content = `{"entities":[],"story_beat":""}`
		}
		return &types.ChatResponse{Choices: []types.Choice{{Message: types.ChatMessage{Role: "assistant", Content: content}}}}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(req.Messages) > 0 && req.Messages[0].Role == "system" {
		f.lastSystem = req.Messages[0].Content
	}
	return &types.ChatResponse{Choices: []types.Choice{{Message: types.ChatMessage{Role: "assistant", Content: f.reply}}}}, nil
}

func (f *fakeChat) ChatCompletionStream(context.Context, *types.ChatRequest) (provider.StreamHandler, error) {
	if f.stream != nil {
		return f.stream, nil
	}
	return nil, hearthErrors.NewInternalError("not implemented")
}

// fakeStream yields its chunks, then err (io.EOF when unset).
type fakeStream struct {
	chunks []*types.StreamChunk
	err    error
	i      int
	closed bool
}

func (f *fakeStream) Next() (*types.StreamChunk, error) {
	if f.i < len(f.chunks) {
		c := f.chunks[f.i]
		f.i++
		return c, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, io.EOF
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Name() string { return "fake-embed" }

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func seedPersona(store *inmem.Store) {
	store.AddPersona(&persona.Persona{
		ID: "p1", CreatorID: "creator", Name: "Iris",
		Visibility: persona.VisibilityPublic, SystemPrompt: "You are Iris, a thoughtful companion.",
	})
}

func newTestEngine(t *testing.T, store *inmem.Store, chat *fakeChat, opts ...Option) *Engine {
	t.Helper()
	e, err := New(store, chat, opts...)
	require.NoError(t, err)
	return e
}

func TestProcessTurn_FullPipeline(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	chat := &fakeChat{
		reply:      "Twice? That deploy pipeline owes you an apology.",
		extraction: `{"entities":[{"name":"deploy pipeline","type":"fact","data":{"description":"keeps breaking at work","confidence":0.7}}],"story_beat":"Venting about a broken deploy"}`,
	}
	e := newTestEngine(t, store, chat, WithEmbedder(&fakeEmbedder{vec: []float32{1, 0, 0}}))

	res, err := e.ProcessTurn(context.Background(), &TurnRequest{
		UserID:     "u1",
		PersonaIDs: []string{"p1"},
		Message:    "long day. the deploy broke twice",
	})
	require.NoError(t, err)

	assert.Equal(t, chat.reply, res.Reply)
	assert.Equal(t, "p1", res.PersonaID)
	assert.NotEmpty(t, res.EpisodeID)
	assert.Equal(t, "STRANGER", res.Relationship)
	assert.Equal(t, 49, res.Remaining)
	require.NotNil(t, res.Mood)
	assert.Less(t, res.Mood.SocialBattery, 1.0)

	// Both sides of the exchange were persisted.
	count, err := store.CountMessages(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The extraction job ran and wrote to the graph.
	e.Wait()
	assert.Equal(t, 1, chat.extractionSeen)
	entities, err := store.ListEntities(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "deploy pipeline", entities[0].Name)

	ep, err := store.LatestEpisode(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Venting about a broken deploy", ep.TopicSummary)
}

func TestProcessTurn_RateLimited(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	store.SetUserLimits(&ratelimit.UserLimits{UserID: "u1", RequestsToday: 50, MaxPerDay: 50})
	e := newTestEngine(t, store, &fakeChat{reply: "hi"})

	_, err := e.ProcessTurn(context.Background(), &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1"}, Message: "hello",
	})
	require.Error(t, err)
	var te *hearthErrors.TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, hearthErrors.TypeRateLimit, te.Type)
}

func TestProcessTurn_AccessDenied(t *testing.T) {
	store := inmem.New()
	store.AddPersona(&persona.Persona{
		ID: "private", CreatorID: "someone-else", Name: "Sable",
		Visibility: persona.VisibilityPrivate,
	})
	e := newTestEngine(t, store, &fakeChat{reply: "hi"})

	_, err := e.ProcessTurn(context.Background(), &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"private"}, Message: "hello",
	})
	require.Error(t, err)
	var te *hearthErrors.TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, hearthErrors.TypeAccessDenied, te.Type)
}

func TestProcessTurn_LLMFailurePropagates(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	chat := &fakeChat{err: hearthErrors.NewProviderError("fake", "m", "upstream exploded", 502)}
	e := newTestEngine(t, store, chat)

	_, err := e.ProcessTurn(context.Background(), &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1"}, Message: "hello",
	})
	require.Error(t, err)
	var te *hearthErrors.TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, hearthErrors.TypeProvider, te.Type)

	// Nothing was persisted for the failed turn.
	count, _ := store.CountMessages(context.Background(), "u1", "p1")
	assert.Zero(t, count)
}

func TestProcessTurn_EmbeddingFailureDegrades(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	e := newTestEngine(t, store, &fakeChat{reply: "still here"},
		WithEmbedder(&fakeEmbedder{err: hearthErrors.NewServiceUnavailableError("gemini", "", "down")}))

	res, err := e.ProcessTurn(context.Background(), &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1"}, Message: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "still here", res.Reply)
}

func TestProcessTurn_InvalidRequest(t *testing.T) {
	e := newTestEngine(t, inmem.New(), &fakeChat{reply: "hi"})

	for _, req := range []*TurnRequest{
		nil,
		{PersonaIDs: []string{"p1"}, Message: "hi"},
		{UserID: "u1", Message: "hi"},
		{UserID: "u1", PersonaIDs: []string{"p1"}},
	} {
		_, err := e.ProcessTurn(context.Background(), req)
		require.Error(t, err)
		var te *hearthErrors.TurnError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, hearthErrors.TypeInvalidRequest, te.Type)
	}
}

func TestProcessTurn_MultiPersona(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	store.AddPersona(&persona.Persona{
		ID: "p2", CreatorID: "creator", Name: "Sable",
		Visibility: persona.VisibilityPublic, SystemPrompt: "You are Sable, dry and laconic.",
	})
	store.SetLocket("p2", "u1", "the user prefers being called Sam")
	chat := &fakeChat{reply: "we're both here"}
	e := newTestEngine(t, store, chat)

	res, err := e.ProcessTurn(context.Background(), &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1", "p2"}, Message: "hey you two",
	})
	require.NoError(t, err)
	assert.Equal(t, "p1", res.PersonaID)

	assert.Contains(t, chat.lastSystem, "GROUP CONVERSATION")
	assert.Contains(t, chat.lastSystem, "You are Iris")
	assert.Contains(t, chat.lastSystem, "You are Sable")
	assert.Contains(t, chat.lastSystem, "prefers being called Sam")
	assert.NotContains(t, chat.lastSystem, "RELATIONSHIP:")
}

func TestProcessTurn_RelationshipAndMemoryInPrompt(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	store.SetSettings("u1", "p1", &profile.Settings{Voice: "gentle, unhurried"})
	store.AddSharedFact(profile.SharedFact{UserID: "u1", Content: "training for a marathon", SharedWithAll: true})
	chat := &fakeChat{reply: "noted"}
	e := newTestEngine(t, store, chat, WithEmbedder(&fakeEmbedder{vec: []float32{1, 0, 0}}))
	ctx := context.Background()

	_, err := e.ProcessTurn(ctx, &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1"}, Message: "I went for a run today",
	})
	require.NoError(t, err)

	// Second turn sees the first exchange in retrieval and the message count.
	_, err = e.ProcessTurn(ctx, &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1"}, Message: "run felt easier today",
	})
	require.NoError(t, err)

	assert.Contains(t, chat.lastSystem, "RELATIONSHIP: STRANGER (2 messages exchanged)")
	assert.Contains(t, chat.lastSystem, "[Conversation from")
	assert.Contains(t, chat.lastSystem, "I went for a run today")
	assert.Contains(t, chat.lastSystem, "[PRIVATE TO THIS USER]")
	assert.Contains(t, chat.lastSystem, "gentle, unhurried")
	assert.Contains(t, chat.lastSystem, "training for a marathon")
}

func TestProcessTurn_TagsExchangeWithSignals(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	e := newTestEngine(t, store, &fakeChat{reply: "that sounds rough"})

	_, err := e.ProcessTurn(context.Background(), &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1"},
		Message: "urgent: deploy.sh is broken again and I'm frustrated",
	})
	require.NoError(t, err)

	recs := store.ListMemories("u1", "p1")
	require.Len(t, recs, 2)
	require.NotNil(t, recs[0].Signals)
	assert.Equal(t, "code", recs[0].Signals.Domain)
	assert.Equal(t, "negative", recs[0].Signals.Emotion)
	assert.Equal(t, 7, recs[0].Signals.Importance)
	assert.Equal(t, []string{"deploy.sh", "urgent"}, recs[0].Signals.Tags)
	assert.Nil(t, recs[1].Signals, "assistant record stays untagged")

	ep, err := store.LatestEpisode(context.Background(), "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"domain": "code"}, ep.Metadata)
	e.Wait()
}

func TestProcessTurnStream_DrainedStreamPersistsExchange(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	stream := &fakeStream{chunks: []*types.StreamChunk{
		{Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "hello "}}}},
		{Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "there"}}}},
	}}
	e := newTestEngine(t, store, &fakeChat{stream: stream})

	okBefore := testutil.ToFloat64(metrics.TurnsTotal.WithLabelValues(metrics.OutcomeOK))

	s, err := e.ProcessTurnStream(context.Background(), &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1"}, Message: "hi",
	})
	require.NoError(t, err)
	for {
		_, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
	assert.True(t, stream.closed)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.TurnsTotal.WithLabelValues(metrics.OutcomeOK)))
	recs := store.ListMemories("u1", "p1")
	require.Len(t, recs, 2)
	assert.Equal(t, "hello there", recs[1].Content)
	e.Wait()
}

func TestProcessTurnStream_MidStreamErrorCountsAsError(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	stream := &fakeStream{
		chunks: []*types.StreamChunk{
			{Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: "partial"}}}},
		},
		err: hearthErrors.NewProviderError("fake", "m", "connection reset", 502),
	}
	e := newTestEngine(t, store, &fakeChat{stream: stream})

	okBefore := testutil.ToFloat64(metrics.TurnsTotal.WithLabelValues(metrics.OutcomeOK))
	errBefore := testutil.ToFloat64(metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError))

	s, err := e.ProcessTurnStream(context.Background(), &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1"}, Message: "hi",
	})
	require.NoError(t, err)
	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	require.Error(t, err)
	require.NotEqual(t, io.EOF, err)
	require.NoError(t, s.Close())

	assert.Equal(t, errBefore+1, testutil.ToFloat64(metrics.TurnsTotal.WithLabelValues(metrics.OutcomeError)))
	assert.Equal(t, okBefore, testutil.ToFloat64(metrics.TurnsTotal.WithLabelValues(metrics.OutcomeOK)),
		"a failed stream must not count as a completed turn")

	// The partial reply is still persisted so the exchange is not lost.
	recs := store.ListMemories("u1", "p1")
	require.Len(t, recs, 2)
	assert.Equal(t, "partial", recs[1].Content)
	e.Wait()
}

func TestProcessTurn_DriftDirective(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	chat := &fakeChat{reply: "sure"}
	e := newTestEngine(t, store, chat,
		WithCognitiveDrift(1.0),
		WithRand(func() float64 { return 0.99 }),
	)

	_, err := e.ProcessTurn(context.Background(), &TurnRequest{
		UserID: "u1", PersonaIDs: []string{"p1"}, Message: "hello",
	})
	require.NoError(t, err)
	assert.Contains(t, chat.lastSystem, "interrupt yourself")
}

func TestSetBehavior_HotSwapsDrift(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	chat := &fakeChat{reply: "sure"}
	e := newTestEngine(t, store, chat, WithRand(func() float64 { return 0.99 }))

	ctx := context.Background()
	_, err := e.ProcessTurn(ctx, &TurnRequest{UserID: "u1", PersonaIDs: []string{"p1"}, Message: "hello"})
	require.NoError(t, err)
	assert.NotContains(t, chat.lastSystem, "interrupt yourself")

	e.SetBehavior(1.0, time.Hour)

	_, err = e.ProcessTurn(ctx, &TurnRequest{UserID: "u1", PersonaIDs: []string{"p1"}, Message: "hello again"})
	require.NoError(t, err)
	assert.Contains(t, chat.lastSystem, "interrupt yourself")
}

func TestProcessTurn_SessionGapRecoversBattery(t *testing.T) {
	store := inmem.New()
	seedPersona(store)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	e := newTestEngine(t, store, &fakeChat{reply: "hi"},
		WithClock(clock),
		WithRand(func() float64 { return 0.5 }), // always neutral weather
	)

	ctx := context.Background()
	res, err := e.ProcessTurn(ctx, &TurnRequest{UserID: "u1", PersonaIDs: []string{"p1"}, Message: "hello"})
	require.NoError(t, err)
	first := res.Mood.SocialBattery

	// Within the same session battery keeps draining.
	now = now.Add(10 * time.Minute)
	res, err = e.ProcessTurn(ctx, &TurnRequest{UserID: "u1", PersonaIDs: []string{"p1"}, Message: "still here"})
	require.NoError(t, err)
	assert.Less(t, res.Mood.SocialBattery, first)

	// After a long gap a new session starts and battery recovers.
	drained := res.Mood.SocialBattery
	now = now.Add(5 * time.Hour)
	res, err = e.ProcessTurn(ctx, &TurnRequest{UserID: "u1", PersonaIDs: []string{"p1"}, Message: "back again"})
	require.NoError(t, err)
	assert.Greater(t, res.Mood.SocialBattery, drained)
}
