package hierarchy

import (
	"strings"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// Selector matches nodes by text, accessibility description, or
// identifier. Any set field can match; empty fields are ignored.
type Selector struct {
	Text       string `json:"text,omitempty" yaml:"text,omitempty"`
	Desc       string `json:"desc,omitempty" yaml:"desc,omitempty"`
	ResourceID string `json:"resourceId,omitempty" yaml:"resourceId,omitempty"`
}

// Empty reports whether the selector has no criteria.
func (s Selector) Empty() bool {
	return s.Text == "" && s.Desc == "" && s.ResourceID == ""
}

// String renders the selector for log lines.
func (s Selector) String() string {
	switch {
	case s.Text != "":
		return "text=" + s.Text
	case s.Desc != "":
		return "desc=" + s.Desc
	case s.ResourceID != "":
		return "id=" + s.ResourceID
	default:
		return "<empty>"
	}
}

// Matches reports whether the node satisfies the selector. Text and
// description match by case-insensitive substring; identifiers by plain
// substring, since resource IDs are case-significant.
func (s Selector) Matches(n core.UINode) bool {
	if s.Text != "" && containsIgnoreCase(n.Text, s.Text) {
		return true
	}
	if s.Desc != "" && containsIgnoreCase(n.Desc, s.Desc) {
		return true
	}
	if s.ResourceID != "" && strings.Contains(n.ResourceID, s.ResourceID) {
		return true
	}
	return false
}

// FindBySelector returns the first node in document order matching the
// selector. Document order is the stable tie-break everywhere in the
// engine: earlier nodes sit higher in the original hierarchy.
func FindBySelector(nodes []core.UINode, sel Selector) (core.UINode, bool) {
	if sel.Empty() {
		return core.UINode{}, false
	}
	for _, n := range nodes {
		if sel.Matches(n) {
			return n, true
		}
	}
	return core.UINode{}, false
}

// FindByQuery returns every node whose combined text, description and
// identifier contain the query, case-insensitive. This is the XML-first
// shortcut: an intent like "comment button" resolving to a single node
// skips the vision oracle entirely.
func FindByQuery(nodes []core.UINode, query string) []core.UINode {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []core.UINode
	for _, n := range nodes {
		label := strings.ToLower(strings.Join([]string{n.Text, n.Desc, n.ResourceID}, " "))
		if strings.Contains(label, q) {
			out = append(out, n)
		}
	}
	return out
}

// Clickable returns the clickable nodes with non-degenerate bounds.
func Clickable(nodes []core.UINode) []core.UINode {
	var out []core.UINode
	for _, n := range nodes {
		if n.Clickable && !n.Bounds.Empty() {
			out = append(out, n)
		}
	}
	return out
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
