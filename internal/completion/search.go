package completion

import (
	"regexp"

	"github.com/canvasgate/canvasgate/internal/model"
)

// SearchPredicate decides from a validated history whether to ask the
// provider for web search. It is a hint; providers may ignore it.
type SearchPredicate func(msgs []model.Message) bool

// SearchInstruction is prepended as a system message when search is on.
const SearchInstruction = "You have access to web search. Use it when the question depends on current " +
	"or time-sensitive information, and mention the sources you relied on."

// searchTriggers are temporal, current-events, question and search-intent
// terms, matched on word boundaries.
var searchTriggers = regexp.MustCompile(`(?i)\b(` +
	`today|tonight|yesterday|tomorrow|this (?:week|month|year)|right now|currently|current|` +
	`latest|recent|recently|upcoming|news|headlines?|breaking|weather|forecast|` +
	`stock price|exchange rate|score|election|` +
	`who is|who won|what happened|when (?:is|does|will)|where is|` +
	`search|look up|lookup|google|find out` +
	`)\b`)

// LexicalSearch matches the latest user message against searchTriggers.
func LexicalSearch(msgs []model.Message) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == string(model.NodeRoleUser) {
			return searchTriggers.MatchString(msgs[i].Content)
		}
	}
	return false
}

// NeverSearch disables the search hint.
func NeverSearch([]model.Message) bool { return false }
