package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthmind/hearth/internal/persona"
	hearthErrors "github.com/hearthmind/hearth/pkg/errors"
)

type fakeStore struct {
	personas    map[string]*persona.Persona
	grants      map[string]bool // personaID + "|" + userID
	personaGets int
	grantGets   int
}

func (f *fakeStore) GetPersona(_ context.Context, personaID string) (*persona.Persona, error) {
	f.personaGets++
	return f.personas[personaID], nil
}

func (f *fakeStore) HasPersonaGrant(_ context.Context, personaID, userID string) (bool, error) {
	f.grantGets++
	return f.grants[personaID+"|"+userID], nil
}

func TestCheck_PublicPersona(t *testing.T) {
	store := &fakeStore{personas: map[string]*persona.Persona{
		"p1": {ID: "p1", CreatorID: "creator", Visibility: persona.VisibilityPublic},
	}}
	c := NewChecker(store)

	p, err := c.Check(context.Background(), "p1", "someone-else")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Zero(t, store.grantGets)
}

func TestCheck_CreatorBypassesGrants(t *testing.T) {
	store := &fakeStore{personas: map[string]*persona.Persona{
		"p1": {ID: "p1", CreatorID: "u1", Visibility: persona.VisibilityPrivate},
	}}
	c := NewChecker(store)

	_, err := c.Check(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.Zero(t, store.grantGets)
}

func TestCheck_PrivateRequiresGrant(t *testing.T) {
	store := &fakeStore{
		personas: map[string]*persona.Persona{
			"p1": {ID: "p1", CreatorID: "creator", Visibility: persona.VisibilityPrivate},
		},
		grants: map[string]bool{"p1|granted-user": true},
	}
	c := NewChecker(store)

	_, err := c.Check(context.Background(), "p1", "granted-user")
	require.NoError(t, err)

	_, err = c.Check(context.Background(), "p1", "stranger")
	require.Error(t, err)
	var te *hearthErrors.TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, hearthErrors.TypeAccessDenied, te.Type)
}

func TestCheck_MissingPersonaDenied(t *testing.T) {
	c := NewChecker(&fakeStore{personas: map[string]*persona.Persona{}})

	_, err := c.Check(context.Background(), "nope", "u1")
	require.Error(t, err)
	var te *hearthErrors.TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, hearthErrors.TypeAccessDenied, te.Type)
}

func TestPersona_CachedBetweenCalls(t *testing.T) {
	store := &fakeStore{personas: map[string]*persona.Persona{
		"p1": {ID: "p1", Visibility: persona.VisibilityPublic},
	}}
	c := NewChecker(store)

	_, err := c.Persona(context.Background(), "p1")
	require.NoError(t, err)
	_, err = c.Persona(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.personaGets)
}

func TestPersona_MissingNotCached(t *testing.T) {
	store := &fakeStore{personas: map[string]*persona.Persona{}}
	c := NewChecker(store)

	p, err := c.Persona(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, p)

	// Persona created after the miss is visible immediately.
	store.personas["p1"] = &persona.Persona{ID: "p1", Visibility: persona.VisibilityPublic}
	p, err = c.Persona(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
}
