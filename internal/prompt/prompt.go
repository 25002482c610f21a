// Package prompt composes the system prompt from the persona definition and
// whatever context blocks the turn managed to assemble. Every block is
// optional; the persona identity alone is the floor.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hearthmind/hearth/internal/persona"
)

// Blocks carries the optional context sections for one turn. Any field may be
// empty; empty fields are omitted without placeholders.
type Blocks struct {
	Relationship    string
	Handoff         string
	Personalization string
	SharedFacts     string
	Graph           string
	Memory          string
	Mood            string
	Directives      []string
}

// BuildSingle composes the prompt for a turn with one persona. Identity comes
// first, behavioral modifiers layer after, and memory blocks come last so
// they read as recent grounding.
func BuildSingle(p *persona.Persona, b Blocks) string {
	sections := make([]string, 0, 10)
	sections = appendSection(sections, identity(p))
	sections = appendSection(sections, b.Relationship)
	sections = appendSection(sections, b.Handoff)
	sections = appendSection(sections, b.Personalization)
	sections = appendSection(sections, b.SharedFacts)
	sections = appendSection(sections, b.Graph)
	sections = appendSection(sections, b.Memory)
	sections = appendSection(sections, b.Mood)
	for _, d := range b.Directives {
		sections = appendSection(sections, d)
	}
	return strings.Join(sections, "\n\n")
}

// BuildMulti composes the prompt for a turn addressed to several personas at
// once. Relationship and handoff context are suppressed; they are not
// well-defined across simultaneous personas. Each persona's private locket
// notes are included under the collaboration framing.
func BuildMulti(personas []*persona.Persona, lockets map[string]string, b Blocks) string {
	names := make([]string, 0, len(personas))
	for _, p := range personas {
		names = append(names, p.Name)
	}

	sections := make([]string, 0, 12)
	for _, p := range personas {
		sections = appendSection(sections, identity(p))
	}
	if len(names) > 1 {
		sections = appendSection(sections, fmt.Sprintf(
			"GROUP CONVERSATION: you are %s, all present together with the user. Respond in character, interact with each other naturally, and do not speak for the others.",
			strings.Join(names, ", ")))
	}
	for _, p := range personas {
		if locket := strings.TrimSpace(lockets[p.ID]); locket != "" {
			sections = appendSection(sections, fmt.Sprintf("%s'S PRIVATE NOTES ABOUT THE USER:\n%s", strings.ToUpper(p.Name), locket))
		}
	}
	sections = appendSection(sections, b.Personalization)
	sections = appendSection(sections, b.SharedFacts)
	sections = appendSection(sections, b.Graph)
	sections = appendSection(sections, b.Memory)
	sections = appendSection(sections, b.Mood)
	for _, d := range b.Directives {
		sections = appendSection(sections, d)
	}
	return strings.Join(sections, "\n\n")
}

// identity never returns "": a persona without a configured system prompt
// still gets a minimal in-character framing.
func identity(p *persona.Persona) string {
	if strings.TrimSpace(p.SystemPrompt) != "" {
		return p.SystemPrompt
	}
	if p.Name != "" {
		return fmt.Sprintf("You are %s, an AI companion.", p.Name)
	}
	return "You are an AI companion."
}

func appendSection(sections []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return sections
	}
	return append(sections, s)
}
