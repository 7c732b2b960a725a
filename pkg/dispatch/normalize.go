// Package dispatch normalizes free-form action names onto the canonical
// vocabulary and executes resolved actions against a device session with
// bounded retry budgets.
package dispatch

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// matchCutoff is the minimum similarity ratio for fuzzy action-name
// matching. Names scoring below it fall through to keyword heuristics.
const matchCutoff = 0.6

// synonym maps one free-form alias onto a canonical kind. The table is
// ordered: fuzzy matching scans top to bottom and keeps the first best
// ratio, so earlier entries win ties.
type synonym struct {
	alias string
	kind  core.ActionKind
}

var synonyms = []synonym{
	{"left_click", core.ActionClick},
	{"right_click", core.ActionClick},
	{"tap", core.ActionClick},
	{"touch", core.ActionClick},
	{"press", core.ActionClick},
	{"single_click", core.ActionClick},
	{"double_click", core.ActionClick},
	{"double_tap", core.ActionClick},
	{"long_click", core.ActionLongPress},
	{"hold", core.ActionLongPress},
	{"press_and_hold", core.ActionLongPress},
	{"long_tap", core.ActionLongPress},
	{"scroll", core.ActionSwipe},
	{"drag", core.ActionSwipe},
	{"slide", core.ActionSwipe},
	{"flick", core.ActionSwipe},
	{"input", core.ActionType},
	{"enter", core.ActionType},
	{"write", core.ActionType},
	{"text", core.ActionType},
	{"keypress", core.ActionKey},
	{"key_press", core.ActionKey},
	{"button", core.ActionKey},
	{"launch", core.ActionOpen},
	{"start", core.ActionOpen},
	{"run", core.ActionOpen},
	{"sleep", core.ActionWait},
	{"pause", core.ActionWait},
	{"delay", core.ActionWait},
	{"stop", core.ActionTerminate},
	{"end", core.ActionTerminate},
	{"finish", core.ActionTerminate},
}

// Normalize maps a free-form action name onto the canonical vocabulary.
// Resolution order: exact canonical name, exact synonym, fuzzy match
// against the synonym table, fuzzy match against the canonical set,
// keyword heuristics. Normalize is total: every input resolves to some
// kind, with click as the last resort. The upstream proposer is a
// generative model, so its vocabulary cannot be assumed constrained.
func Normalize(name string) core.ActionKind {
	if strings.TrimSpace(name) == "" {
		return core.ActionClick
	}
	cleaned := strings.ReplaceAll(strings.TrimSpace(strings.ToLower(name)), " ", "_")

	if kind := core.ActionKind(cleaned); kind.Valid() {
		return kind
	}
	for _, s := range synonyms {
		if s.alias == cleaned {
			return s.kind
		}
	}
	if kind, ok := closestSynonym(cleaned); ok {
		return kind
	}
	if kind, ok := closestCanonical(cleaned); ok {
		return kind
	}
	return keywordFallback(cleaned)
}

func closestSynonym(name string) (core.ActionKind, bool) {
	best := -1
	bestRatio := 0.0
	for i, s := range synonyms {
		r := similarity(name, s.alias)
		if r >= matchCutoff && r > bestRatio {
			best, bestRatio = i, r
		}
	}
	if best < 0 {
		return "", false
	}
	return synonyms[best].kind, true
}

func closestCanonical(name string) (core.ActionKind, bool) {
	var best core.ActionKind
	bestRatio := 0.0
	for _, kind := range core.CanonicalActions() {
		r := similarity(name, string(kind))
		if r >= matchCutoff && r > bestRatio {
			best, bestRatio = kind, r
		}
	}
	return best, best != ""
}

// similarity is the difflib sequence ratio computed over individual
// characters.
func similarity(a, b string) float64 {
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

func keywordFallback(name string) core.ActionKind {
	switch {
	case containsAny(name, "click", "tap", "touch", "press"):
		return core.ActionClick
	case containsAny(name, "long", "hold"):
		return core.ActionLongPress
	case containsAny(name, "swipe", "scroll", "drag"):
		return core.ActionSwipe
	case containsAny(name, "type", "input", "text"):
		return core.ActionType
	case containsAny(name, "key", "button"):
		return core.ActionKey
	}
	return core.ActionClick
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
