package websearch

import "strings"

// Trigger terms that mark a message as wanting fresh or external
// information regardless of phrasing.
var strongTriggers = []string{
	"latest",
	"newest",
	"current version",
	"documentation",
	"changelog",
	"release notes",
	"release",
	"deprecated",
	"rfc ",
	"cve-",
	"how do i",
	"how to install",
	"official docs",
}

// Lookup-ish openers that only count when the message actually asks a
// question.
var questionTriggers = []string{
	"what is the",
	"what are the",
	"when was",
	"when did",
	"who is",
	"where is",
	"is there a",
}

var urlTokens = []string{"http://", "https://", "www."}

// Message length bounds for the heuristic. Very short messages carry no
// searchable intent; very long ones are pasted code or prose.
const (
	minSearchableLen = 12
	maxSearchableLen = 500
)

// ShouldSearch reports whether a user message warrants a web lookup.
// It is deliberately conservative: a plain question about the user's own
// code should never burn a search call.
func ShouldSearch(message string) bool {
	trimmed := strings.TrimSpace(message)
	if len(trimmed) < minSearchableLen || len(trimmed) > maxSearchableLen {
		return false
	}
	lower := strings.ToLower(trimmed)

	for _, token := range urlTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	for _, term := range strongTriggers {
		if strings.Contains(lower, term) {
			return true
		}
	}
	if strings.Contains(lower, "?") {
		for _, term := range questionTriggers {
			if strings.Contains(lower, term) {
				return true
			}
		}
	}
	return false
}
