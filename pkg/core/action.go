package core

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind is one of the canonical primitive actions the dispatcher
// accepts. Free-form action names coming from the oracle are normalized
// onto this vocabulary before anything reaches a device.
type ActionKind string

// The canonical action vocabulary.
const (
	ActionKey          ActionKind = "key"
	ActionClick        ActionKind = "click"
	ActionLongPress    ActionKind = "long_press"
	ActionSwipe        ActionKind = "swipe"
	ActionType         ActionKind = "type"
	ActionSystemButton ActionKind = "system_button"
	ActionOpen         ActionKind = "open"
	ActionWait         ActionKind = "wait"
	ActionTerminate    ActionKind = "terminate"
)

// CanonicalActions returns the full vocabulary in a stable order.
func CanonicalActions() []ActionKind {
	return []ActionKind{
		ActionKey,
		ActionClick,
		ActionLongPress,
		ActionSwipe,
		ActionType,
		ActionSystemButton,
		ActionOpen,
		ActionWait,
		ActionTerminate,
	}
}

// Valid reports whether the kind is part of the canonical vocabulary.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionKey, ActionClick, ActionLongPress, ActionSwipe, ActionType,
		ActionSystemButton, ActionOpen, ActionWait, ActionTerminate:
		return true
	default:
		return false
	}
}

// NeedsPoint reports whether the kind carries a screen coordinate.
// Coordinate-bearing actions must be in device space by the time they
// reach the dispatcher.
func (k ActionKind) NeedsPoint() bool {
	switch k {
	case ActionClick, ActionLongPress, ActionSwipe:
		return true
	default:
		return false
	}
}

// ResolvedAction is a fully resolved primitive action, produced by
// normalization plus coordinate resolution and consumed exactly once by
// the dispatcher. Point and Point2 are always device-space pixels.
type ResolvedAction struct {
	Kind    ActionKind `json:"action"`
	Point   *Point     `json:"coordinate,omitempty"`  // click/long_press target, swipe start
	Point2  *Point     `json:"coordinate2,omitempty"` // swipe end
	Text    string     `json:"text,omitempty"`        // type payload or open target
	Button  string     `json:"button,omitempty"`      // key name or system button
	Seconds float64    `json:"time,omitempty"`        // wait duration
}

// WaitAction builds a local wait for the given duration.
func WaitAction(seconds float64) ResolvedAction {
	return ResolvedAction{Kind: ActionWait, Seconds: seconds}
}

// ClickAction builds a click at the given device point.
func ClickAction(p Point) ResolvedAction {
	return ResolvedAction{Kind: ActionClick, Point: &p}
}

// String renders the action for log lines.
func (a ResolvedAction) String() string {
	var b strings.Builder
	b.WriteString(string(a.Kind))
	if a.Point != nil {
		fmt.Fprintf(&b, " @%s", a.Point)
	}
	if a.Point2 != nil {
		fmt.Fprintf(&b, "->%s", a.Point2)
	}
	if a.Text != "" {
		fmt.Fprintf(&b, " text=%q", truncate(a.Text, 40))
	}
	if a.Button != "" {
		fmt.Fprintf(&b, " button=%s", a.Button)
	}
	if a.Seconds > 0 {
		fmt.Fprintf(&b, " %.1fs", a.Seconds)
	}
	return b.String()
}

// WaitDuration returns the wait time as a Duration, clamped to [0, 30s]
// so a garbled oracle number cannot stall the pipeline.
func (a ResolvedAction) WaitDuration() time.Duration {
	s := a.Seconds
	if s < 0 {
		s = 0
	}
	if s > 30 {
		s = 30
	}
	return time.Duration(s * float64(time.Second))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// DispatchStatus is the outcome class of one device-action attempt.
type DispatchStatus string

// Dispatch outcomes. A device attempt is never retried below the
// dispatcher; anything but success feeds the dispatcher's retry budget.
const (
	DispatchSuccess DispatchStatus = "success"
	DispatchFailure DispatchStatus = "failure"
	DispatchError   DispatchStatus = "error"
)

// DispatchResult is the final outcome of dispatching one action,
// including retries. On failure it carries the last attempted arguments
// for diagnostics.
type DispatchResult struct {
	Status   DispatchStatus `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Action   ResolvedAction `json:"action"`
	Attempts int            `json:"attempts"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// OK reports whether the dispatch succeeded.
func (r DispatchResult) OK() bool {
	return r.Status == DispatchSuccess
}
