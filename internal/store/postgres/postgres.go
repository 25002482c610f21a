// Package postgres implements every persistence contract of the engine on
// PostgreSQL with pgvector. One Store serves mood, memory, access, rate
// limiting, profile, and extraction writes so a deployment needs a single
// connection pool.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/hearthmind/hearth/internal/memory"
	"github.com/hearthmind/hearth/internal/mood"
	"github.com/hearthmind/hearth/internal/persona"
	"github.com/hearthmind/hearth/internal/profile"
	"github.com/hearthmind/hearth/internal/ratelimit"
)

// Store implements the engine's persistence interfaces on PostgreSQL.
type Store struct {
	db *sql.DB
}

// Config contains PostgreSQL connection settings.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         "localhost",
		Port:         5432,
		Database:     "hearth",
		SSLMode:      "disable",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// New opens a connection pool and verifies connectivity.
func New(cfg *Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing pool, for tests and shared-pool setups.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- rate limiting (user_limits) ---

// GetUserLimits returns the user's budget row, or nil when none exists.
func (s *Store) GetUserLimits(ctx context.Context, userID string) (*ratelimit.UserLimits, error) {
	query := `
		SELECT user_id, requests_today, max_requests_per_day, is_premium
		FROM user_limits
		WHERE user_id = $1`

	var limits ratelimit.UserLimits
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&limits.UserID, &limits.RequestsToday, &limits.MaxPerDay, &limits.IsPremium,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user limits: %w", err)
	}
	return &limits, nil
}

// CreateUserLimits inserts a fresh budget row. A concurrent insert for the
// same user is tolerated; the existing row wins.
func (s *Store) CreateUserLimits(ctx context.Context, limits *ratelimit.UserLimits) error {
	query := `
		INSERT INTO user_limits (user_id, requests_today, max_requests_per_day, is_premium)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		limits.UserID, limits.RequestsToday, limits.MaxPerDay, limits.IsPremium,
	)
	if err != nil {
		return fmt.Errorf("insert user limits: %w", err)
	}
	return nil
}

// IncrementRequests bumps the counter in a single statement so concurrent
// turns from the same user cannot lose updates.
func (s *Store) IncrementRequests(ctx context.Context, userID string) (int, error) {
	query := `
		UPDATE user_limits
		SET requests_today = requests_today + 1
		WHERE user_id = $1
		RETURNING requests_today`

	var after int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&after); err != nil {
		return 0, fmt.Errorf("increment requests: %w", err)
	}
	return after, nil
}

// --- access (personas, persona_access) ---

// GetPersona returns a persona row, or nil when it does not exist.
func (s *Store) GetPersona(ctx context.Context, personaID string) (*persona.Persona, error) {
	query := `
		SELECT id, creator_id, name, visibility, system_prompt
		FROM personas
		WHERE id = $1`

	var p persona.Persona
	err := s.db.QueryRowContext(ctx, query, personaID).Scan(
		&p.ID, &p.CreatorID, &p.Name, &p.Visibility, &p.SystemPrompt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query persona: %w", err)
	}
	return &p, nil
}

// HasPersonaGrant reports whether an explicit grant row exists.
func (s *Store) HasPersonaGrant(ctx context.Context, personaID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM persona_access
			WHERE persona_id = $1 AND user_id = $2
		)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, personaID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query persona grant: %w", err)
	}
	return exists, nil
}

// --- mood (persona_mood_state) ---

// GetMoodState returns the pair's mood row, or nil when none exists.
func (s *Store) GetMoodState(ctx context.Context, userID, personaID string) (*mood.State, error) {
	query := `
		SELECT user_id, persona_id, social_battery, interest_vector,
		       melancholy_threshold, current_topic_domain, topic_start_time,
		       topic_token_count, last_interaction, session_start
		FROM persona_mood_state
		WHERE user_id = $1 AND persona_id = $2`

	var st mood.State
	var topicDomain sql.NullString
	var topicStart, lastInteraction, sessionStart sql.NullTime

	err := s.db.QueryRowContext(ctx, query, userID, personaID).Scan(
		&st.UserID, &st.PersonaID, &st.SocialBattery, &st.InterestVector,
		&st.Melancholy, &topicDomain, &topicStart,
		&st.TopicTokenCount, &lastInteraction, &sessionStart,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query mood state: %w", err)
	}

	st.TopicDomain = topicDomain.String
	if topicStart.Valid {
		st.TopicStartTime = topicStart.Time
	}
	if lastInteraction.Valid {
		st.LastInteraction = lastInteraction.Time
	}
	if sessionStart.Valid {
		st.SessionStart = sessionStart.Time
	}
	return &st, nil
}

// UpsertMoodState writes the whole mood row, last write wins.
func (s *Store) UpsertMoodState(ctx context.Context, st *mood.State) error {
	query := `
		INSERT INTO persona_mood_state (
			user_id, persona_id, social_battery, interest_vector,
			melancholy_threshold, current_topic_domain, topic_start_time,
			topic_token_count, last_interaction, session_start
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, persona_id) DO UPDATE SET
			social_battery = EXCLUDED.social_battery,
			interest_vector = EXCLUDED.interest_vector,
			melancholy_threshold = EXCLUDED.melancholy_threshold,
			current_topic_domain = EXCLUDED.current_topic_domain,
			topic_start_time = EXCLUDED.topic_start_time,
			topic_token_count = EXCLUDED.topic_token_count,
			last_interaction = EXCLUDED.last_interaction,
			session_start = EXCLUDED.session_start`

	_, err := s.db.ExecContext(ctx, query,
		st.UserID, st.PersonaID, st.SocialBattery, st.InterestVector,
		st.Melancholy, nullString(st.TopicDomain), nullTime(st.TopicStartTime),
		st.TopicTokenCount, nullTime(st.LastInteraction), nullTime(st.SessionStart),
	)
	if err != nil {
		return fmt.Errorf("upsert mood state: %w", err)
	}
	return nil
}

// --- memory (memories, memories_episodes) ---

// LatestEpisode returns the pair's most recent episode by end time.
func (s *Store) LatestEpisode(ctx context.Context, userID, personaID string) (*memory.Episode, error) {
	query := `
		SELECT id, user_id, persona_id, topic_summary, start_time, end_time, metadata
		FROM memories_episodes
		WHERE user_id = $1 AND persona_id = $2
		ORDER BY end_time DESC
		LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, userID, personaID)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest episode: %w", err)
	}
	return ep, nil
}

// TouchEpisode bumps an episode's end time.
func (s *Store) TouchEpisode(ctx context.Context, episodeID string, end time.Time) error {
	query := `UPDATE memories_episodes SET end_time = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, end, episodeID); err != nil {
		return fmt.Errorf("touch episode: %w", err)
	}
	return nil
}

// InsertEpisode stores a new episode and returns its id.
func (s *Store) InsertEpisode(ctx context.Context, ep *memory.Episode) (string, error) {
	id := ep.ID
	if id == "" {
		id = uuid.NewString()
	}
	metadataJSON, _ := json.Marshal(ep.Metadata)

	query := `
		INSERT INTO memories_episodes (id, user_id, persona_id, topic_summary, start_time, end_time, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		id, ep.UserID, ep.PersonaID, ep.TopicSummary, ep.StartTime, ep.EndTime, string(metadataJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert episode: %w", err)
	}
	return id, nil
}

// RecentEpisodes returns up to limit episodes for the pair, newest first.
func (s *Store) RecentEpisodes(ctx context.Context, userID, personaID string, limit int) ([]*memory.Episode, error) {
	query := `
		SELECT id, user_id, persona_id, topic_summary, start_time, end_time, metadata
		FROM memories_episodes
		WHERE user_id = $1 AND persona_id = $2
		ORDER BY end_time DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, userID, personaID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*memory.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// InsertMemory stores one utterance record with its embedding.
func (s *Store) InsertMemory(ctx context.Context, rec *memory.Record) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}

	query := `
		INSERT INTO memories (id, user_id, persona_id, episode_id, role, content, embedding, signals, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		id, rec.UserID, rec.PersonaID, nullString(rec.EpisodeID),
		rec.Role, rec.Content, nullVector(rec.Embedding), nullJSON(rec.Signals), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// SearchMemories calls the hybrid search procedure combining vector
// similarity with lexical ranking.
func (s *Store) SearchMemories(ctx context.Context, embedding []float32, query string, threshold float64, limit int, personaID, userID string) ([]*memory.Hit, error) {
	q := `
		SELECT role, content, created_at, similarity
		FROM match_memories_v3($1, $2, $3, $4, $5, $6)`

	rows, err := s.db.QueryContext(ctx, q,
		vectorLiteral(embedding), query, threshold, limit, personaID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	defer rows.Close()

	var hits []*memory.Hit
	for rows.Next() {
		var hit memory.Hit
		if err := rows.Scan(&hit.Role, &hit.Content, &hit.CreatedAt, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, &hit)
	}
	return hits, rows.Err()
}

// CountMessages returns the pair's total historical message count.
func (s *Store) CountMessages(ctx context.Context, userID, personaID string) (int, error) {
	query := `SELECT COUNT(*) FROM memories WHERE user_id = $1 AND persona_id = $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, personaID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// --- profile (user_profile_graph, shared_facts, persona_user_settings, persona_lockets) ---

// ListEntities returns all profile graph entities for the user.
func (s *Store) ListEntities(ctx context.Context, userID string) ([]profile.Entity, error) {
	query := `
		SELECT user_id, entity_name, entity_type, data, last_updated
		FROM user_profile_graph
		WHERE user_id = $1
		ORDER BY entity_type, entity_name`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query profile graph: %w", err)
	}
	defer rows.Close()

	var entities []profile.Entity
	for rows.Next() {
		var e profile.Entity
		var dataJSON []byte
		var lastUpdated sql.NullTime
		if err := rows.Scan(&e.UserID, &e.Name, &e.Type, &dataJSON, &lastUpdated); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		var data struct {
			Description string  `json:"description"`
			Confidence  float64 `json:"confidence"`
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &data); err != nil {
				return nil, fmt.Errorf("parse entity data: %w", err)
			}
		}
		e.Description = data.Description
		e.Confidence = data.Confidence
		if lastUpdated.Valid {
			t := lastUpdated.Time
			e.LastUpdated = &t
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// UpsertEntity overwrites any prior entity with the same key triple.
func (s *Store) UpsertEntity(ctx context.Context, e *profile.Entity) error {
	data, _ := json.Marshal(map[string]any{
		"description": e.Description,
		"confidence":  e.Confidence,
	})
	last := time.Now().UTC()
	if e.LastUpdated != nil {
		last = *e.LastUpdated
	}

	query := `
		INSERT INTO user_profile_graph (user_id, entity_name, entity_type, data, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, entity_name, entity_type) DO UPDATE SET
			data = EXCLUDED.data,
			last_updated = EXCLUDED.last_updated`

	_, err := s.db.ExecContext(ctx, query, e.UserID, e.Name, e.Type, string(data), last)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// UpdateEpisodeSummary overwrites an episode's topic summary.
func (s *Store) UpdateEpisodeSummary(ctx context.Context, episodeID, summary string) error {
	query := `UPDATE memories_episodes SET topic_summary = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, summary, episodeID); err != nil {
		return fmt.Errorf("update episode summary: %w", err)
	}
	return nil
}

// ListSharedFacts returns the user's facts flagged shared_with_all.
func (s *Store) ListSharedFacts(ctx context.Context, userID string) ([]profile.SharedFact, error) {
	query := `
		SELECT user_id, content, fact_type, shared_with_all
		FROM shared_facts
		WHERE user_id = $1 AND shared_with_all = TRUE`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query shared facts: %w", err)
	}
	defer rows.Close()

	var facts []profile.SharedFact
	for rows.Next() {
		var f profile.SharedFact
		if err := rows.Scan(&f.UserID, &f.Content, &f.FactType, &f.SharedWithAll); err != nil {
			return nil, fmt.Errorf("scan shared fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// GetSettings returns the user's personalization for a persona, nil when unset.
func (s *Store) GetSettings(ctx context.Context, userID, personaID string) (*profile.Settings, error) {
	query := `
		SELECT identity, relationship, world, preferences, voice
		FROM persona_user_settings
		WHERE user_id = $1 AND persona_id = $2`

	var identity, relationship, world, preferences, voice sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID, personaID).Scan(
		&identity, &relationship, &world, &preferences, &voice,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query persona settings: %w", err)
	}

	return &profile.Settings{
		Identity:     identity.String,
		Relationship: relationship.String,
		World:        world.String,
		Preferences:  preferences.String,
		Voice:        voice.String,
	}, nil
}

// RecentUtterances returns the user's latest messages to other personas.
func (s *Store) RecentUtterances(ctx context.Context, userID, excludePersonaID string, since time.Time, limit int) ([]profile.Utterance, error) {
	query := `
		SELECT m.persona_id, COALESCE(p.name, ''), m.content, m.created_at
		FROM memories m
		LEFT JOIN personas p ON p.id = m.persona_id
		WHERE m.user_id = $1
		  AND m.persona_id <> $2
		  AND m.role = 'user'
		  AND m.created_at >= $3
		ORDER BY m.created_at DESC
		LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, userID, excludePersonaID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent utterances: %w", err)
	}
	defer rows.Close()

	var utterances []profile.Utterance
	for rows.Next() {
		var u profile.Utterance
		if err := rows.Scan(&u.PersonaID, &u.PersonaName, &u.Content, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		utterances = append(utterances, u)
	}
	return utterances, rows.Err()
}

// GetLocket returns a persona's pinned notes about the user, "" when none.
func (s *Store) GetLocket(ctx context.Context, personaID, userID string) (string, error) {
	query := `
		SELECT content
		FROM persona_lockets
		WHERE persona_id = $1 AND user_id = $2`

	var content string
	err := s.db.QueryRowContext(ctx, query, personaID, userID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query locket: %w", err)
	}
	return content, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*memory.Episode, error) {
	var ep memory.Episode
	var metadataJSON sql.NullString
	err := row.Scan(
		&ep.ID, &ep.UserID, &ep.PersonaID, &ep.TopicSummary,
		&ep.StartTime, &ep.EndTime, &metadataJSON,
	)
	if err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &ep.Metadata); err != nil {
			return nil, fmt.Errorf("parse episode metadata: %w", err)
		}
	}
	return &ep, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// vectorLiteral renders an embedding in pgvector's input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func nullVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return vectorLiteral(v)
}

func nullJSON(sig *memory.Signals) any {
	if sig == nil {
		return nil
	}
	b, err := json.Marshal(sig)
	if err != nil {
		return nil
	}
	return string(b)
}
