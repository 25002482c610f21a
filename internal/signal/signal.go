// Package signal provides pure heuristic classifiers over raw message text:
// conversation domain, emotional tone, importance score, and extractable
// tags. They are advisory inputs to memory tagging and mood updates, kept
// behind a small interface so a model-based classifier can replace any of
// them without touching callers.
package signal

import (
	"regexp"
	"strings"
)

// Conversation domains.
const (
	DomainCode     = "code"
	DomainBusiness = "business"
	DomainPersonal = "personal"
)

// Emotional tones.
const (
	EmotionPositive = "positive"
	EmotionNegative = "negative"
	EmotionAnxious  = "anxious"
	EmotionNeutral  = "neutral"
)

// Classifier maps raw text to a label. DetectDomain and DetectEmotion
// satisfy it via ClassifierFunc.
type Classifier interface {
	Classify(text string) string
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(text string) string

// Classify implements Classifier.
func (f ClassifierFunc) Classify(text string) string { return f(text) }

var (
	codePattern = regexp.MustCompile(`(?i)\b(func|function|def|class|import|var|const|return|nil|null|bug|compile|stack trace|exception)\b|console\.log|print\(|=>|\{\}|\[\]|` + "```")

	businessWords = []string{
		"meeting", "schedule", "deadline", "client", "invoice", "budget",
		"project", "revenue", "quarterly", "report", "presentation", "stakeholder",
	}

	fileExtPattern = regexp.MustCompile(`(?i)\b[\w-]+\.(go|py|js|ts|tsx|jsx|java|rb|rs|c|cpp|h|sql|html|css|json|yaml|yml|md|txt|sh)\b`)

	urgencyWords = []string{"urgent", "asap", "immediately", "right now", "emergency"}

	importanceWords = []string{"important", "critical", "remember"}
	bugWords        = []string{"bug", "error", "broken", "crash", "fail"}

	positiveWords = []string{"love", "great", "awesome", "happy", "wonderful", "excited", "thank", "amazing"}
	negativeWords = []string{"hate", "terrible", "awful", "sad", "angry", "frustrated", "annoyed", "upset"}
	anxiousWords  = []string{"worried", "anxious", "nervous", "scared", "stress", "afraid", "overwhelmed"}
)

// DetectDomain classifies a message as code, business, or personal.
// Code-like tokens win over business vocabulary; everything else is personal.
func DetectDomain(text string) string {
	if codePattern.MatchString(text) || fileExtPattern.MatchString(text) {
		return DomainCode
	}
	lower := strings.ToLower(text)
	for _, w := range businessWords {
		if strings.Contains(lower, w) {
			return DomainBusiness
		}
	}
	return DomainPersonal
}

// DetectEmotion classifies the emotional tone of a message. Buckets are
// checked in priority order: positive, negative, anxious; first match wins.
func DetectEmotion(text string) string {
	lower := strings.ToLower(text)
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			return EmotionPositive
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			return EmotionNegative
		}
	}
	for _, w := range anxiousWords {
		if strings.Contains(lower, w) {
			return EmotionAnxious
		}
	}
	return EmotionNeutral
}

// ExtractTags pulls filename-pattern matches (lower-cased) plus a literal
// "urgent" tag when urgency vocabulary is present. Results are de-duplicated.
func ExtractTags(text string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, m := range fileExtPattern.FindAllString(text, -1) {
		tag := strings.ToLower(m)
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	lower := strings.ToLower(text)
	for _, w := range urgencyWords {
		if strings.Contains(lower, w) {
			if !seen["urgent"] {
				seen["urgent"] = true
				tags = append(tags, "urgent")
			}
			break
		}
	}
	return tags
}

// Importance scores a message on [1,10]: base 5, +3 for importance
// vocabulary, +2 for bug/error vocabulary, +1 for the business domain,
// -2 when shorter than 20 characters.
func Importance(text, domain string) int {
	score := 5
	lower := strings.ToLower(text)
	for _, w := range importanceWords {
		if strings.Contains(lower, w) {
			score += 3
			break
		}
	}
	for _, w := range bugWords {
		if strings.Contains(lower, w) {
			score += 2
			break
		}
	}
	if domain == DomainBusiness {
		score++
	}
	if len(text) < 20 {
		score -= 2
	}
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score
}

// EstimateTokens approximates token count at ~4 characters per token.
// Used for topic dwell accounting, not billing.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
