// Package inmem implements the engine's persistence contracts in process
// memory. It backs tests and single-node development setups; hybrid search
// is approximated with cosine similarity plus a lexical bonus.
package inmem

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthmind/hearth/internal/memory"
	"github.com/hearthmind/hearth/internal/mood"
	"github.com/hearthmind/hearth/internal/persona"
	"github.com/hearthmind/hearth/internal/profile"
	"github.com/hearthmind/hearth/internal/ratelimit"
)

// Store holds all engine state in memory, safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	limits   map[string]*ratelimit.UserLimits
	personas map[string]*persona.Persona
	grants   map[string]bool // personaID + "\x00" + userID
	moods    map[string]*mood.State
	episodes []*memory.Episode
	records  []*memory.Record
	entities map[string]*profile.Entity // userID + "\x00" + name + "\x00" + type
	facts    []profile.SharedFact
	settings map[string]*profile.Settings // userID + "\x00" + personaID
	lockets  map[string]string            // personaID + "\x00" + userID
}

// New returns an empty store.
func New() *Store {
	return &Store{
		limits:   make(map[string]*ratelimit.UserLimits),
		personas: make(map[string]*persona.Persona),
		grants:   make(map[string]bool),
		moods:    make(map[string]*mood.State),
		entities: make(map[string]*profile.Entity),
		settings: make(map[string]*profile.Settings),
		lockets:  make(map[string]string),
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

// --- seeding helpers for tests and development ---

// AddPersona registers a persona.
func (s *Store) AddPersona(p *persona.Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[p.ID] = p
}

// Grant records an explicit access grant.
func (s *Store) Grant(personaID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[pairKey(personaID, userID)] = true
}

// AddSharedFact registers a shared fact.
func (s *Store) AddSharedFact(f profile.SharedFact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, f)
}

// SetSettings registers personalization settings for a pair.
func (s *Store) SetSettings(userID, personaID string, settings *profile.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[pairKey(userID, personaID)] = settings
}

// SetLocket registers a persona's locket notes about a user.
func (s *Store) SetLocket(personaID, userID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockets[pairKey(personaID, userID)] = content
}

// SetUserLimits replaces a user's budget row.
func (s *Store) SetUserLimits(limits *ratelimit.UserLimits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *limits
	s.limits[limits.UserID] = &cp
}

// --- ratelimit.Store ---

func (s *Store) GetUserLimits(_ context.Context, userID string) (*ratelimit.UserLimits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.limits[userID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (s *Store) CreateUserLimits(_ context.Context, limits *ratelimit.UserLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.limits[limits.UserID]; ok {
		return nil
	}
	cp := *limits
	s.limits[limits.UserID] = &cp
	return nil
}

func (s *Store) IncrementRequests(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.limits[userID]
	if !ok {
		row = &ratelimit.UserLimits{UserID: userID, MaxPerDay: ratelimit.DefaultFreeTierCap}
		s.limits[userID] = row
	}
	row.RequestsToday++
	return row.RequestsToday, nil
}

// --- access.Store ---

func (s *Store) GetPersona(_ context.Context, personaID string) (*persona.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.personas[personaID], nil
}

func (s *Store) HasPersonaGrant(_ context.Context, personaID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[pairKey(personaID, userID)], nil
}

// --- mood.Store ---

func (s *Store) GetMoodState(_ context.Context, userID, personaID string) (*mood.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.moods[pairKey(userID, personaID)]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *Store) UpsertMoodState(_ context.Context, st *mood.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.moods[pairKey(st.UserID, st.PersonaID)] = &cp
	return nil
}

// --- memory.Store ---

func (s *Store) LatestEpisode(_ context.Context, userID, personaID string) (*memory.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *memory.Episode
	for _, ep := range s.episodes {
		if ep.UserID != userID || ep.PersonaID != personaID {
			continue
		}
		if latest == nil || ep.EndTime.After(latest.EndTime) {
			latest = ep
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) TouchEpisode(_ context.Context, episodeID string, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.episodes {
		if ep.ID == episodeID {
			ep.EndTime = end
			return nil
		}
	}
	return nil
}

func (s *Store) InsertEpisode(_ context.Context, ep *memory.Episode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.episodes = append(s.episodes, &cp)
	return cp.ID, nil
}

func (s *Store) RecentEpisodes(_ context.Context, userID, personaID string, limit int) ([]*memory.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*memory.Episode
	for _, ep := range s.episodes {
		if ep.UserID == userID && ep.PersonaID == personaID {
			cp := *ep
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.After(out[j].EndTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertMemory(_ context.Context, rec *memory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.records = append(s.records, &cp)
	return nil
}

func (s *Store) SearchMemories(_ context.Context, embedding []float32, query string, threshold float64, limit int, personaID, userID string) ([]*memory.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var hits []*memory.Hit
	for _, rec := range s.records {
		if rec.UserID != userID || rec.PersonaID != personaID {
			continue
		}
		score := cosine(embedding, rec.Embedding)
		content := strings.ToLower(rec.Content)
		for _, term := range terms {
			if strings.Contains(content, term) {
				score += 0.1
				break
			}
		}
		if score < threshold {
			continue
		}
		hits = append(hits, &memory.Hit{
			Role:       rec.Role,
			Content:    rec.Content,
			CreatedAt:  rec.CreatedAt,
			Similarity: score,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ListMemories returns the pair's records in insertion order, for tests.
func (s *Store) ListMemories(userID, personaID string) []*memory.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*memory.Record
	for _, rec := range s.records {
		if rec.UserID == userID && rec.PersonaID == personaID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) CountMessages(_ context.Context, userID, personaID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.records {
		if rec.UserID == userID && rec.PersonaID == personaID {
			count++
		}
	}
	return count, nil
}

// --- profile.Store / extraction.GraphStore ---

func (s *Store) ListEntities(_ context.Context, userID string) ([]profile.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []profile.Entity
	for _, e := range s.entities {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) UpsertEntity(_ context.Context, e *profile.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entities[e.UserID+"\x00"+e.Name+"\x00"+e.Type] = &cp
	return nil
}

func (s *Store) UpdateEpisodeSummary(_ context.Context, episodeID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.episodes {
		if ep.ID == episodeID {
			ep.TopicSummary = summary
			return nil
		}
	}
	return nil
}

func (s *Store) ListSharedFacts(_ context.Context, userID string) ([]profile.SharedFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []profile.SharedFact
	for _, f := range s.facts {
		if f.UserID == userID && f.SharedWithAll {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) GetSettings(_ context.Context, userID, personaID string) (*profile.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[pairKey(userID, personaID)]
	if !ok {
		return nil, nil
	}
	cp := *settings
	return &cp, nil
}

func (s *Store) RecentUtterances(_ context.Context, userID, excludePersonaID string, since time.Time, limit int) ([]profile.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []profile.Utterance
	for _, rec := range s.records {
		if rec.UserID != userID || rec.PersonaID == excludePersonaID ||
			rec.Role != "user" || rec.CreatedAt.Before(since) {
			continue
		}
		name := ""
		if p, ok := s.personas[rec.PersonaID]; ok {
			name = p.Name
		}
		out = append(out, profile.Utterance{
			PersonaID:   rec.PersonaID,
			PersonaName: name,
			Content:     rec.Content,
			CreatedAt:   rec.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetLocket(_ context.Context, personaID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockets[pairKey(personaID, userID)], nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
