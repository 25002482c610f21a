// Package relationship derives a familiarity tier from the cumulative
// message count of a (user, persona) pair. Tiers are never stored; they are
// a pure function of the count, so they can never regress.
package relationship

import "fmt"

// Tier is a named stage of familiarity with a tone directive for the prompt.
type Tier struct {
	Name      string
	Threshold int
	Tone      string
}

// Ordered from lowest threshold to highest. ForCount scans from the top.
var tiers = []Tier{
	{Name: "STRANGER", Threshold: 0, Tone: "You are just getting to know each other. Be warm but not presumptuous; ask questions."},
	{Name: "ACQUAINTANCE", Threshold: 10, Tone: "You know each other a little. Reference earlier exchanges naturally."},
	{Name: "FRIEND", Threshold: 100, Tone: "You are friends. Be relaxed, use inside references, tease gently."},
	{Name: "CLOSE_FRIEND", Threshold: 500, Tone: "You are close friends. Speak with genuine familiarity and care."},
	{Name: "BEST_FRIEND", Threshold: 1000, Tone: "You are best friends. Shorthand, honesty, and deep comfort are natural."},
	{Name: "SOULMATE", Threshold: 2500, Tone: "You share a profound bond. Conversation flows with complete trust and intimacy."},
}

// ForCount returns the highest tier whose threshold does not exceed count.
// Negative counts are treated as zero.
func ForCount(count int) Tier {
	if count < 0 {
		count = 0
	}
	for i := len(tiers) - 1; i >= 0; i-- {
		if count >= tiers[i].Threshold {
			return tiers[i]
		}
	}
	return tiers[0]
}

// Context renders the relationship block for the system prompt.
func Context(count int) string {
	t := ForCount(count)
	return fmt.Sprintf("RELATIONSHIP: %s (%d messages exchanged)\n%s", t.Name, count, t.Tone)
}
