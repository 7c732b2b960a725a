// Package scenario models executable test plans: the business goal and
// the scenario/step tree the planner produced, loaded from YAML or the
// API request body.
package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/jsengine"
	"github.com/stepguard-dev/stepguard/pkg/stepexec"
)

// Step is one unit of work: a natural-language description of what to
// do plus optional structured hints for the execution machine.
type Step struct {
	ID          string `yaml:"id" json:"step_id"`
	Description string `yaml:"description" json:"description"`

	// Action is an optional action-name hint (click, type, swipe...).
	// Free text; the dispatcher normalizes it.
	Action string `yaml:"action,omitempty" json:"action,omitempty"`

	// Query narrows element lookup. When set it replaces the
	// description as the search intent.
	Query string `yaml:"query,omitempty" json:"query,omitempty"`

	// ExpectedState overrides the derived success hint.
	ExpectedState string `yaml:"expectedState,omitempty" json:"expected_state,omitempty"`

	// Alternatives are fallback phrasings tried when the primary
	// intent keeps failing.
	Alternatives []string `yaml:"alternatives,omitempty" json:"alternatives,omitempty"`

	// Optional steps degrade to WARNED instead of failing the
	// scenario.
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty"`

	// MaxCycles overrides the per-step recovery budget when positive.
	MaxCycles int `yaml:"maxCycles,omitempty" json:"max_cycles,omitempty"`

	// Script hooks run in the JS engine around the step.
	Script Hooks `yaml:"script,omitempty" json:"script,omitempty"`
}

// Hooks are JS snippets run before and after a step. A post hook that
// throws marks the step failed even when the oracle passed it.
type Hooks struct {
	Pre  string `yaml:"pre,omitempty" json:"pre,omitempty"`
	Post string `yaml:"post,omitempty" json:"post,omitempty"`
}

// Scenario is an ordered list of steps with an identity.
type Scenario struct {
	ID    string `yaml:"id" json:"scenario_id"`
	Title string `yaml:"title" json:"title"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Plan is a full run input: the business goal and its scenarios.
type Plan struct {
	Goal      string            `yaml:"goal" json:"business_goal"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Scenarios []Scenario        `yaml:"scenarios" json:"scenarios"`
}

// knownActions covers the canonical action kinds and the synonyms
// plans commonly carry. The dispatcher accepts more; validation only
// rejects names that look like typos of nothing.
var knownActions = map[string]bool{
	"click": true, "tap": true, "press": true, "touch": true,
	"double_tap": true, "long_press": true, "longpress": true, "hold": true,
	"swipe": true, "scroll": true, "drag": true, "flick": true,
	"type": true, "input": true, "enter_text": true, "send_keys": true, "write": true,
	"key": true, "keyevent": true, "press_key": true,
	"system_button": true, "back": true, "home": true, "recent": true,
	"open": true, "launch": true, "launch_app": true, "start": true,
	"wait": true, "sleep": true, "pause": true, "delay": true,
	"terminate": true, "close_app": true, "stop": true, "exit": true,
}

// Load reads a plan from a YAML file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided plan file
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a YAML plan.
func Parse(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err).WithMessage("cannot parse plan")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks plan structure: a goal, at least one scenario with
// steps, unique IDs, non-empty descriptions, and plausible actions.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Goal) == "" {
		return invalid("plan has no goal")
	}
	if len(p.Scenarios) == 0 {
		return invalid("plan has no scenarios")
	}

	seenScenario := map[string]bool{}
	for si := range p.Scenarios {
		sc := &p.Scenarios[si]
		if sc.ID == "" {
			sc.ID = fmt.Sprintf("scenario-%d", si+1)
		}
		if seenScenario[sc.ID] {
			return invalid(fmt.Sprintf("duplicate scenario id %q", sc.ID))
		}
		seenScenario[sc.ID] = true

		if len(sc.Steps) == 0 {
			return invalid(fmt.Sprintf("scenario %q has no steps", sc.ID))
		}

		seenStep := map[string]bool{}
		for ti := range sc.Steps {
			st := &sc.Steps[ti]
			if st.ID == "" {
				st.ID = fmt.Sprintf("%s-step-%d", sc.ID, ti+1)
			}
			if seenStep[st.ID] {
				return invalid(fmt.Sprintf("duplicate step id %q in scenario %q", st.ID, sc.ID))
			}
			seenStep[st.ID] = true

			if strings.TrimSpace(st.Description) == "" {
				return invalid(fmt.Sprintf("step %q has no description", st.ID))
			}
			if st.Action != "" {
				name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(st.Action)), " ", "_")
				if !knownActions[name] {
					return invalid(fmt.Sprintf("step %q has unknown action %q", st.ID, st.Action))
				}
			}
			if st.MaxCycles < 0 {
				return invalid(fmt.Sprintf("step %q has negative maxCycles", st.ID))
			}
		}
	}
	return nil
}

func invalid(msg string) error {
	return core.ErrInvalidConfig.WithMessage(msg)
}

// Interpolate expands ${...} expressions in every step's text fields
// using the JS engine, after exposing the plan's env as globals.
func (p *Plan) Interpolate(eng *jsengine.Engine) error {
	for k, v := range p.Env {
		eng.SetVariable(k, v)
	}

	expand := func(s *string) error {
		if !strings.Contains(*s, "${") {
			return nil
		}
		out, err := eng.ExpandVariables(*s)
		if err != nil {
			return err
		}
		*s = out
		return nil
	}

	for si := range p.Scenarios {
		for ti := range p.Scenarios[si].Steps {
			st := &p.Scenarios[si].Steps[ti]
			for _, field := range []*string{&st.Description, &st.Query, &st.ExpectedState} {
				if err := expand(field); err != nil {
					return fmt.Errorf("step %s: %w", st.ID, err)
				}
			}
			for ai := range st.Alternatives {
				if err := expand(&st.Alternatives[ai]); err != nil {
					return fmt.Errorf("step %s: %w", st.ID, err)
				}
			}
		}
	}
	return nil
}

// Exec converts a step to the execution machine's input shape.
func (s Step) Exec() stepexec.Step {
	return stepexec.Step{
		ID:            s.ID,
		Description:   s.Description,
		Action:        s.Action,
		Query:         s.Query,
		ExpectedState: s.ExpectedState,
		Alternatives:  s.Alternatives,
	}
}

// StepCount returns the total number of steps across scenarios.
func (p *Plan) StepCount() int {
	n := 0
	for _, sc := range p.Scenarios {
		n += len(sc.Steps)
	}
	return n
}
