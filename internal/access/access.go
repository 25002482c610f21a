// Package access decides whether a user may converse with a persona.
package access

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/hearthmind/hearth/internal/persona"
	"github.com/hearthmind/hearth/pkg/errors"
)

// Store provides the persona rows and grant rows access decisions depend on.
type Store interface {
	// GetPersona returns nil, nil when no persona with the given ID exists.
	GetPersona(ctx context.Context, personaID string) (*persona.Persona, error)
	// HasPersonaGrant reports whether an explicit access grant exists for the
	// user on a private persona.
	HasPersonaGrant(ctx context.Context, personaID, userID string) (bool, error)
}

const (
	personaCacheTTL     = 30 * time.Second
	personaCacheCleanup = 2 * time.Minute
)

// Checker answers persona access questions. Persona rows are cached briefly
// because a multi-persona turn looks the same persona up several times; grant
// rows are never cached so a revocation takes effect on the next turn.
type Checker struct {
	store Store
	cache *gocache.Cache
}

// NewChecker returns a Checker backed by the given store.
func NewChecker(store Store) *Checker {
	return &Checker{
		store: store,
		cache: gocache.New(personaCacheTTL, personaCacheCleanup),
	}
}

// Persona loads a persona by ID, consulting the cache first. A missing
// persona returns nil, nil.
func (c *Checker) Persona(ctx context.Context, personaID string) (*persona.Persona, error) {
	if v, ok := c.cache.Get(personaID); ok {
		return v.(*persona.Persona), nil
	}
	p, err := c.store.GetPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		c.cache.Set(personaID, p, gocache.DefaultExpiration)
	}
	return p, nil
}

// Check returns the persona when the user may converse with it. A missing
// persona or a denied grant yields an access error.
func (c *Checker) Check(ctx context.Context, personaID, userID string) (*persona.Persona, error) {
	p, err := c.Persona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.NewAccessDeniedError("persona not found")
	}
	if p.Visibility == persona.VisibilityPublic {
		return p, nil
	}
	if p.CreatorID == userID {
		return p, nil
	}
	ok, err := c.store.HasPersonaGrant(ctx, personaID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewAccessDeniedError("you do not have access to this persona")
	}
	return p, nil
}
