package core

// ProposedAction is one loosely-typed action as the oracle proposes it,
// before normalization and coordinate resolution. Coordinates may still
// be in the oracle's model space. Text is overloaded the way the wire
// format overloads it: for pointer actions it is a selector hint, for
// type/key/open it is the payload.
type ProposedAction struct {
	Name        string  `json:"action"`
	Coordinate  *Point  `json:"coordinate,omitempty"`
	Coordinate2 *Point  `json:"coordinate2,omitempty"`
	Text        string  `json:"text,omitempty"`
	Desc        string  `json:"content_desc,omitempty"`
	ResourceID  string  `json:"resource_id,omitempty"`
	Button      string  `json:"button,omitempty"`
	Seconds     float64 `json:"time,omitempty"`
	Status      string  `json:"status,omitempty"`
}

// HasSelector reports whether the proposal carries any selector hint.
func (p ProposedAction) HasSelector() bool {
	return p.Text != "" || p.Desc != "" || p.ResourceID != ""
}

// InterruptResolution is the oracle's full answer to an interruption
// decision call: what to do, why, and at most a handful of concrete
// actions to do it with.
type InterruptResolution struct {
	Decision  InterruptDecision `json:"decision"`
	Rationale string            `json:"rationale,omitempty"`
	Actions   []ProposedAction  `json:"actions,omitempty"`
}
