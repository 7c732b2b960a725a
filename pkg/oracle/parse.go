package oracle

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// Model output is advisory text that should be JSON. These helpers
// recover the JSON from the wrappers models actually emit: markdown
// fences, <tool_call> tags, and prose around the object. Decoding never
// panics and always lands on a safe default.

// StripFences removes a surrounding markdown code fence, including an
// optional language tag on the opening line.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	parts := strings.SplitN(trimmed, "```", 3)
	if len(parts) < 2 {
		return trimmed
	}
	inner := parts[1]
	if i := strings.IndexByte(inner, '\n'); i >= 0 {
		if lang := strings.TrimSpace(inner[:i]); strings.EqualFold(lang, "json") {
			inner = inner[i+1:]
		}
	}
	return strings.TrimSpace(inner)
}

// ExtractToolCall returns the payload between <tool_call> tags, or the
// input unchanged when no tag is present.
func ExtractToolCall(s string) string {
	start := strings.Index(s, "<tool_call>")
	if start < 0 {
		return s
	}
	rest := s[start+len("<tool_call>"):]
	if end := strings.Index(rest, "</tool_call>"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ExtractJSONObject returns the first balanced top-level {...} in s.
// String literals are tracked so braces inside them do not count.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// parseObject runs the full recovery chain and returns a gjson view of
// the first usable object.
func parseObject(raw string) (gjson.Result, bool) {
	obj, ok := ExtractJSONObject(StripFences(raw))
	if !ok || !gjson.Valid(obj) {
		return gjson.Result{}, false
	}
	return gjson.Parse(obj), true
}

// decodeProposed pulls a single proposed action out of model output.
// Accepts the bare object form and the {"arguments": {...}} function
// call wrapper.
func decodeProposed(raw string) (core.ProposedAction, bool) {
	v, ok := parseObject(ExtractToolCall(StripFences(raw)))
	if !ok {
		return core.ProposedAction{}, false
	}
	p := proposedFromJSON(v)
	if p.Name == "" {
		return core.ProposedAction{}, false
	}
	return p, true
}

// proposedFromJSON maps one loosely-typed action object. A bare string
// is treated as an action name. Both snake_case and hyphenated selector
// keys are accepted; models emit both.
func proposedFromJSON(v gjson.Result) core.ProposedAction {
	if v.Type == gjson.String {
		return core.ProposedAction{Name: strings.TrimSpace(v.String())}
	}
	if args := v.Get("arguments"); args.Exists() {
		v = args
	}

	p := core.ProposedAction{
		Name:       strings.TrimSpace(v.Get("action").String()),
		Text:       v.Get("text").String(),
		Desc:       v.Get("content_desc").String(),
		ResourceID: v.Get("resource_id").String(),
		Button:     v.Get("button").String(),
		Status:     v.Get("status").String(),
	}
	if p.Desc == "" {
		p.Desc = v.Get("content-desc").String()
	}
	if p.ResourceID == "" {
		p.ResourceID = v.Get("resource-id").String()
	}
	for _, key := range []string{"time", "seconds", "duration"} {
		if sec := v.Get(key); sec.Exists() {
			p.Seconds = sec.Float()
			break
		}
	}
	p.Coordinate = pointFromJSON(v.Get("coordinate"))
	p.Coordinate2 = pointFromJSON(v.Get("coordinate2"))
	return p
}

func pointFromJSON(v gjson.Result) *core.Point {
	if !v.IsArray() {
		return nil
	}
	arr := v.Array()
	if len(arr) < 2 {
		return nil
	}
	return &core.Point{
		X: int(arr[0].Float() + 0.5),
		Y: int(arr[1].Float() + 0.5),
	}
}

// decodeEvaluation maps model output onto a verdict. Unparseable output
// degrades to a REDO_STEP retry rather than an error; evaluation noise
// must never kill a run.
func decodeEvaluation(raw string) core.EvaluationVerdict {
	v, ok := parseObject(raw)
	if !ok {
		return core.EvaluationVerdict{
			OK:       false,
			Reason:   "parse_error",
			Recovery: core.RecoveryRedoStep,
			GateType: core.GateNone,
		}
	}

	verdict := core.EvaluationVerdict{
		OK:         v.Get("ok").Bool(),
		Reason:     v.Get("reason").String(),
		Recovery:   core.ParseRecoveryKind(v.Get("recovery").String()),
		GateType:   normalizeGate(v.Get("gate_type").String()),
		Confidence: v.Get("confidence").Float(),
	}
	for _, s := range v.Get("suggestions").Array() {
		if t := strings.TrimSpace(s.String()); t != "" {
			verdict.Suggestions = append(verdict.Suggestions, t)
		}
	}

	// A done step needs no recovery, whatever the model said.
	if verdict.OK {
		verdict.Recovery = core.RecoveryNone
		verdict.Suggestions = nil
	}
	return verdict
}

// normalizeGate maps free-form gate names onto the known set. AUTH is a
// legacy spelling of LOGIN some prompts produce.
func normalizeGate(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case core.GateLogin, "AUTH":
		return core.GateLogin
	case core.GatePermission:
		return core.GatePermission
	default:
		return core.GateNone
	}
}

// decodeResolution maps model output onto an interruption resolution.
// Anything unparseable degrades to PASS_THROUGH: acting on garbage is
// worse than not acting.
func decodeResolution(raw string) core.InterruptResolution {
	v, ok := parseObject(raw)
	if !ok {
		return core.InterruptResolution{
			Decision:  core.DecisionPassThrough,
			Rationale: "parse error, defaulting to pass-through",
		}
	}

	res := core.InterruptResolution{
		Decision:  core.ParseInterruptDecision(v.Get("decision").String()),
		Rationale: v.Get("rationale").String(),
	}
	for _, a := range v.Get("actions").Array() {
		p := proposedFromJSON(a)
		if p.Name == "" {
			continue
		}
		res.Actions = append(res.Actions, p)
	}
	return res
}
