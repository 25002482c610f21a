package mood

import (
	"time"

	"github.com/hearthmind/hearth/internal/signal"
)

// DriftDirective permits occasional self-interruptions and tangents. It is
// framed as permission, never an instruction for every message.
const DriftDirective = "Occasionally (not every message) you may briefly interrupt yourself with a " +
	"related tangent, a stray association, or mild disagreement before returning to the point. " +
	"Use this sparingly, when it feels natural."

// ShouldTriggerDrift runs a Bernoulli trial with the given probability.
// A probability of 0 (the default) disables drift entirely.
func ShouldTriggerDrift(probability float64, rnd func() float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	return rnd() < probability
}

var breakSuggestions = []string{
	"You've been deep in this for a while. Gently suggest stretching or grabbing some water before continuing.",
	"This has been a long focused stretch. Suggest a short walk or a screen break, then pick the thread back up.",
	"Energy is running low on this topic. Propose stepping away for a few minutes or shifting to something lighter.",
	"It might be time for a breather. Suggest pausing here and returning with fresh eyes.",
}

// CheckTopicExhaustion reports whether the current work topic has been going
// long enough, on low enough battery, to warrant suggesting a break. All
// three conditions must hold: work domain, dwell time past the limit, and
// battery below 0.3. The suggestion is drawn uniformly from a fixed pool.
func CheckTopicExhaustion(st *State, limit time.Duration, now time.Time, rnd func() float64) (bool, string) {
	if st == nil {
		return false, ""
	}
	if limit <= 0 {
		limit = 30 * time.Minute
	}
	if st.TopicDomain != signal.DomainCode && st.TopicDomain != signal.DomainBusiness {
		return false, ""
	}
	if now.Sub(st.TopicStartTime) <= limit {
		return false, ""
	}
	if st.SocialBattery >= 0.3 {
		return false, ""
	}
	idx := int(rnd() * float64(len(breakSuggestions)))
	if idx >= len(breakSuggestions) {
		idx = len(breakSuggestions) - 1
	}
	return true, breakSuggestions[idx]
}
