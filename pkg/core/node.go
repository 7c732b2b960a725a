package core

import "strings"

// UINode is an immutable snapshot of one on-screen element, flattened out
// of a hierarchy dump. Nodes live only as long as the snapshot they were
// parsed from; overlays come and go between device actions, so callers
// must not cache them across perceptions.
type UINode struct {
	Class      string `json:"class,omitempty"`
	Bounds     Bounds `json:"bounds"`
	Text       string `json:"text,omitempty"`
	Desc       string `json:"desc,omitempty"` // accessibility description (content-desc)
	ResourceID string `json:"resourceId,omitempty"`
	Clickable  bool   `json:"clickable,omitempty"`
	Focusable  bool   `json:"focusable,omitempty"`
	Scrollable bool   `json:"scrollable,omitempty"`
	Depth      int    `json:"depth,omitempty"` // nesting depth in the source hierarchy
	Index      int    `json:"index"`           // document order within the snapshot
}

// Center returns the center of the node's bounds.
func (n UINode) Center() Point {
	return n.Bounds.Center()
}

// HasContent reports whether the node carries any text, description or
// identifier, which is the weakest signal that it is a real widget and
// not pure layout scaffolding.
func (n UINode) HasContent() bool {
	return n.Text != "" || n.Desc != "" || n.ResourceID != ""
}

// CombinedText returns the node's text, description, identifier and class
// joined and lowercased, the widest haystack for keyword scans.
func (n UINode) CombinedText() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{n.Text, n.Desc, n.ResourceID, n.Class} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// LabelText returns the node's human-facing label: text, description
// and identifier joined and lowercased. Class stays out of it; widget
// class names like material.button would match cue keywords on every
// ordinary screen.
func (n UINode) LabelText() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{n.Text, n.Desc, n.ResourceID} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// ShortLabel returns the most human-readable handle on the node, for log
// lines and dispatch details.
func (n UINode) ShortLabel() string {
	switch {
	case n.Text != "":
		return n.Text
	case n.Desc != "":
		return n.Desc
	case n.ResourceID != "":
		return n.ResourceID
	default:
		return n.Class
	}
}
