package usecases

import (
	"strings"

	"salesbot/internal/config"
)

// Reply routes, in evaluation order.
const (
	RouteImage    = "image"
	RouteQuote    = "quote"
	RouteDirect   = "direct"
	RouteOffTopic = "off_topic"
	RouteLLM      = "llm"
)

// IsOffTopic applies the denylist and the word-count heuristic to lowercased
// text: a denylist hit, or a message of at least OffTopicMinWords words that
// names no anchor and is not a greeting.
func IsOffTopic(vocab *config.Vocabulary, text string) bool {
	if vocab.MatchesDenylist(text) {
		return true
	}
	return len(strings.Fields(text)) >= vocab.OffTopicMinWords &&
		!vocab.HasAnchor(text) &&
		!vocab.IsGreeting(text)
}

// fill expands {name}-style placeholders in a canned reply.
func fill(template string, pairs ...string) string {
	oldnew := make([]string, 0, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		oldnew = append(oldnew, "{"+pairs[i]+"}", pairs[i+1])
	}
	return strings.NewReplacer(oldnew...).Replace(template)
}
