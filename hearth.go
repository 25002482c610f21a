// Package hearth is the conversational core of an AI companion: per-persona
// mood simulation, relationship progression, two-tier episodic memory with
// hybrid retrieval, a user profile graph built by post-turn extraction, and
// a system prompt composer that layers all of it around a persona.
//
// Hearth can be used in two modes:
//   - Library Mode: embed the Engine directly in your Go application
//   - Server Mode: run cmd/server as a standalone HTTP service
//
// Basic usage:
//
//	engine, err := hearth.New(store, chatProvider,
//	    hearth.WithEmbedder(gemini.New(gemini.WithAPIKey(key))),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := engine.ProcessTurn(ctx, &hearth.TurnRequest{
//	    UserID:     "user-123",
//	    PersonaIDs: []string{"persona-abc"},
//	    Message:    "long day. the deploy broke twice",
//	})
package hearth

import (
	"github.com/hearthmind/hearth/internal/memory"
	"github.com/hearthmind/hearth/internal/mood"
	"github.com/hearthmind/hearth/internal/persona"
	"github.com/hearthmind/hearth/internal/profile"
	"github.com/hearthmind/hearth/internal/ratelimit"
	"github.com/hearthmind/hearth/pkg/errors"
	"github.com/hearthmind/hearth/pkg/types"
)

// Version is the current version of Hearth.
const Version = "0.3.0"

// Re-export core types for convenience, so callers do not need to import the
// internal packages.
type (
	// ChatMessage is a single message in a conversation.
	ChatMessage = types.ChatMessage

	// Persona is a configured AI character.
	Persona = persona.Persona

	// MoodState is the simulated affect state for a (user, persona) pair.
	MoodState = mood.State

	// Episode is a coarse episodic memory unit.
	Episode = memory.Episode

	// ProfileEntity is one node of a user's profile graph.
	ProfileEntity = profile.Entity

	// UserLimits is a user's daily budget row.
	UserLimits = ratelimit.UserLimits

	// TurnError is the unified error type returned by the engine.
	TurnError = errors.TurnError
)
