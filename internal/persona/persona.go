// Package persona defines the persona record shared by access control and
// prompt composition.
package persona

// Visibility values for a persona.
const (
	VisibilityPublic   = "PUBLIC"
	VisibilityPrivate  = "PRIVATE"
	VisibilityUnlisted = "UNLISTED"
)

// Persona is a configured AI character a user converses with.
type Persona struct {
	ID           string `json:"id"`
	CreatorID    string `json:"creator_id"`
	Name         string `json:"name"`
	Visibility   string `json:"visibility"`
	SystemPrompt string `json:"system_prompt"`
}
