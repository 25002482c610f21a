// Package profile assembles the long-lived user context blocks: the entity
// graph built by extraction, per-persona personalization settings, facts
// shared across personas, locket notes, and the cross-persona handoff window.
package profile

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Entity types in the profile graph.
const (
	EntityPerson     = "person"
	EntityPlace      = "place"
	EntityPreference = "preference"
	EntityFact       = "fact"
)

// Entity is one node of a user's profile graph, keyed by
// (user_id, name, type). Upserts overwrite prior data for the same key.
type Entity struct {
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// SharedFact is a user fact broadcast to every persona when flagged.
type SharedFact struct {
	UserID        string `json:"user_id"`
	Content       string `json:"content"`
	FactType      string `json:"fact_type"`
	SharedWithAll bool   `json:"shared_with_all"`
}

// Settings holds the optional personalization sub-sections a user configures
// per persona. Absent sections are simply omitted from the prompt.
type Settings struct {
	Identity     string `json:"identity,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	World        string `json:"world,omitempty"`
	Preferences  string `json:"preferences,omitempty"`
	Voice        string `json:"voice,omitempty"`
}

// Utterance is one recent user message to some persona, used for handoff.
type Utterance struct {
	PersonaID   string
	PersonaName string
	Content     string
	CreatedAt   time.Time
}

// Store provides the rows this package renders.
type Store interface {
	// ListEntities returns all profile graph entities for the user.
	ListEntities(ctx context.Context, userID string) ([]Entity, error)
	// ListSharedFacts returns the user's facts with shared_with_all set.
	ListSharedFacts(ctx context.Context, userID string) ([]SharedFact, error)
	// GetSettings returns nil, nil when the user has no settings for the persona.
	GetSettings(ctx context.Context, userID, personaID string) (*Settings, error)
	// RecentUtterances returns the user's most recent messages to personas
	// other than excludePersonaID since the given time, newest first.
	RecentUtterances(ctx context.Context, userID, excludePersonaID string, since time.Time, limit int) ([]Utterance, error)
	// GetLocket returns the persona's pinned notes about the user, "" when none.
	GetLocket(ctx context.Context, personaID, userID string) (string, error)
}

const (
	// HandoffWindow is how far back cross-persona activity is surfaced.
	HandoffWindow = time.Hour
	// HandoffUtterances is how many recent messages the handoff block carries.
	HandoffUtterances = 3
)

var sectionOrder = []struct {
	entityType string
	label      string
}{
	{EntityPerson, "PEOPLE"},
	{EntityPlace, "PLACES"},
	{EntityPreference, "PREFERENCES"},
	{EntityFact, "CORE FACTS"},
}

// FormatGraph renders the user's entities grouped into labeled sections.
// Empty sections are omitted; no entities at all yields "".
func FormatGraph(entities []Entity) string {
	if len(entities) == 0 {
		return ""
	}
	byType := make(map[string][]Entity, 4)
	for _, e := range entities {
		byType[e.Type] = append(byType[e.Type], e)
	}

	var b strings.Builder
	for _, section := range sectionOrder {
		group := byType[section.entityType]
		if len(group) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(section.label)
		b.WriteString(":\n")
		for _, e := range group {
			fmt.Fprintf(&b, "  • %s: %s\n", e.Name, e.Description)
		}
	}
	return b.String()
}

// RenderSettings turns a settings object into labeled prompt lines wrapped in
// private delimiters. A nil object or one with no populated sections yields "".
func RenderSettings(s *Settings) string {
	if s == nil {
		return ""
	}
	var lines []string
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", label, value))
		}
	}
	add("Your identity with this user", s.Identity)
	add("Your relationship", s.Relationship)
	add("Shared world", s.World)
	add("User preferences", s.Preferences)
	add("Voice and style", s.Voice)
	if len(lines) == 0 {
		return ""
	}
	return "[PRIVATE TO THIS USER]\n" + strings.Join(lines, "\n") + "\n[END PRIVATE TO THIS USER]"
}

// FormatSharedFacts renders one line per fact, "" when there are none.
func FormatSharedFacts(facts []SharedFact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("FACTS THE USER SHARES WITH ALL COMPANIONS:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "  • %s\n", f.Content)
	}
	return b.String()
}

// Service reads profile data through a Store and renders prompt blocks.
type Service struct {
	store Store
	clock func() time.Time
}

// NewService returns a profile service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Graph renders the user's profile graph block. Store failures degrade to "".
func (s *Service) Graph(ctx context.Context, userID string) string {
	entities, err := s.store.ListEntities(ctx, userID)
	if err != nil {
		return ""
	}
	return FormatGraph(entities)
}

// SharedFacts renders the user's broadcast facts block. Failures degrade to "".
func (s *Service) SharedFacts(ctx context.Context, userID string) string {
	facts, err := s.store.ListSharedFacts(ctx, userID)
	if err != nil {
		return ""
	}
	return FormatSharedFacts(facts)
}

// Personalization renders the user's private settings for a persona.
func (s *Service) Personalization(ctx context.Context, userID, personaID string) string {
	settings, err := s.store.GetSettings(ctx, userID, personaID)
	if err != nil {
		return ""
	}
	return RenderSettings(settings)
}

// Handoff renders a bridging block from the user's recent activity with other
// personas, so the active persona can acknowledge it. Empty window yields "".
func (s *Service) Handoff(ctx context.Context, userID, activePersonaID string) string {
	since := s.clock().Add(-HandoffWindow)
	utterances, err := s.store.RecentUtterances(ctx, userID, activePersonaID, since, HandoffUtterances)
	if err != nil || len(utterances) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("RECENTLY, THE USER WAS TALKING WITH OTHER COMPANIONS:\n")
	for _, u := range utterances {
		name := u.PersonaName
		if name == "" {
			name = u.PersonaID
		}
		fmt.Fprintf(&b, "  • (to %s) %q\n", name, u.Content)
	}
	b.WriteString("You may gently acknowledge this if it feels natural.")
	return b.String()
}

// Locket returns a persona's pinned notes about the user, "" on failure.
func (s *Service) Locket(ctx context.Context, personaID, userID string) string {
	locket, err := s.store.GetLocket(ctx, personaID, userID)
	if err != nil {
		return ""
	}
	return locket
}
