// Package stepexec drives the guarded perceive-execute-evaluate-recover
// loop for one test step. The machine owns the cycle budget and the
// recovery dispatch; everything it touches on the device goes through
// the action dispatcher, and every judgement comes from the oracle.
package stepexec

import (
	"fmt"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/coords"
	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/dispatch"
	"github.com/stepguard-dev/stepguard/pkg/hierarchy"
	"github.com/stepguard-dev/stepguard/pkg/interrupt"
	"github.com/stepguard-dev/stepguard/pkg/logger"
	"github.com/stepguard-dev/stepguard/pkg/oracle"
)

// Step is the machine's view of one test step. The planner's scenario
// model converts into this before execution.
type Step struct {
	ID            string
	Description   string
	Action        string   // free-form action-name hint (click, type, swipe, ...)
	Query         string   // natural-language target intent for the oracle
	ExpectedState string   // what success looks like; empty derives a hint
	Alternatives  []string // fallback phrasings tried on later cycles
}

// Intent returns the text submitted to the execution pipeline.
func (s Step) Intent() string {
	if s.Query != "" {
		return s.Query
	}
	return s.Description
}

// IntentFor returns the phrasing tried on the given 1-based cycle: the
// primary intent first, then each alternative in turn, sticking with
// the last once the list runs out.
func (s Step) IntentFor(cycle int) string {
	if cycle <= 1 || len(s.Alternatives) == 0 {
		return s.Intent()
	}
	i := cycle - 2
	if i >= len(s.Alternatives) {
		i = len(s.Alternatives) - 1
	}
	return s.Alternatives[i]
}

// Oracle is the slice of the decision oracle the machine consumes.
// Implemented by oracle.Client; tests substitute stubs.
type Oracle interface {
	ProposeAction(screenshotPath, snapshotXML, intent string) (core.ProposedAction, error)
	EvaluateOutcome(goal, stepDescription, expectedHint string, last oracle.LastAction, snapshotXML, screenshotPath string) (core.EvaluationVerdict, error)
	Disambiguate(screenshotPath string, candidates []core.UINode, query string) (int, error)
}

// CornerPoint is a fractional screen position, used for the blind
// close-button taps of last-resort interruption handling.
type CornerPoint struct {
	XFrac float64 `yaml:"x" json:"x"`
	YFrac float64 `yaml:"y" json:"y"`
}

// Options tune the machine. Zero fields take the reference defaults.
type Options struct {
	// MaxCycles bounds perceive-execute-evaluate iterations per step.
	MaxCycles int

	// MaxSuggestions bounds how many oracle suggestions one recovery
	// pass actionizes.
	MaxSuggestions int

	// SettleDelay is the pause after the execute phase, before
	// re-perceiving for evaluation.
	SettleDelay time.Duration

	// RecoverySettle is the pause after a successful recovery action,
	// before the follow-up intent runs.
	RecoverySettle time.Duration

	// SuggestionDelay is the pause between actionized suggestions.
	SuggestionDelay time.Duration

	// ModelWidth and ModelHeight describe the oracle's working image
	// resolution. Zero disables rescaling: coordinates are taken as
	// device-space.
	ModelWidth  int
	ModelHeight int

	// Snap tunes snap-to-tappable for proposed click coordinates.
	Snap coords.SnapOptions

	// AllowSelectors are tried in order by the permission-gate
	// handler; the first match is tapped.
	AllowSelectors []hierarchy.Selector

	// AuthIntent is the default intent when REQUIRE_AUTH arrives with
	// no suggestions.
	AuthIntent string

	// CornerCloses are likely close-button positions, tried blind when
	// interruption handling has nothing better.
	CornerCloses []CornerPoint

	// CornerAttempts bounds how many corner positions one pass tries.
	CornerAttempts int
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		MaxCycles:       3,
		MaxSuggestions:  3,
		SettleDelay:     200 * time.Millisecond,
		RecoverySettle:  400 * time.Millisecond,
		SuggestionDelay: 250 * time.Millisecond,
		Snap:            coords.DefaultSnapOptions(),
		AllowSelectors: []hierarchy.Selector{
			{Text: "Allow while using the app"},
			{Text: "Allow only this time"},
			{Text: "Allow once"},
			{Text: "Allow"},
			{Desc: "Allow"},
			{ResourceID: "android:id/button1"},
			{ResourceID: "com.android.permissioncontroller:id/permission_allow_button"},
		},
		AuthIntent: "Sign in",
		CornerCloses: []CornerPoint{
			{XFrac: 0.97, YFrac: 0.03},
			{XFrac: 0.95, YFrac: 0.07},
			{XFrac: 0.05, YFrac: 0.05},
			{XFrac: 0.50, YFrac: 0.92},
		},
		CornerAttempts: 3,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxCycles <= 0 {
		o.MaxCycles = def.MaxCycles
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = def.MaxSuggestions
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = def.SettleDelay
	}
	if o.RecoverySettle <= 0 {
		o.RecoverySettle = def.RecoverySettle
	}
	if o.SuggestionDelay <= 0 {
		o.SuggestionDelay = def.SuggestionDelay
	}
	if o.Snap.MaxDistPx == 0 {
		o.Snap = def.Snap
	}
	if o.AllowSelectors == nil {
		o.AllowSelectors = def.AllowSelectors
	}
	if o.AuthIntent == "" {
		o.AuthIntent = def.AuthIntent
	}
	if o.CornerCloses == nil {
		o.CornerCloses = def.CornerCloses
	}
	if o.CornerAttempts <= 0 {
		o.CornerAttempts = def.CornerAttempts
	}
	return o
}

// Machine executes one step at a time against one device session. All
// state is per-step and discarded when RunStep returns; the machine
// itself only holds wiring.
type Machine struct {
	session    core.Session
	oracle     Oracle
	dispatcher *dispatch.Dispatcher
	guard      *interrupt.Guard
	opts       Options
	log        *logger.Logger
}

// New wires a machine. All collaborators are required except guard,
// which may be nil when interruption handling is not wanted (tests).
func New(session core.Session, o Oracle, d *dispatch.Dispatcher, g *interrupt.Guard, opts Options, log *logger.Logger) *Machine {
	return &Machine{
		session:    session,
		oracle:     o,
		dispatcher: d,
		guard:      g,
		opts:       opts.withDefaults(),
		log:        log.WithComponent("stepexec"),
	}
}

// Options returns the effective options after defaulting.
func (m *Machine) Options() Options {
	return m.opts
}

// perception is one coherent look at the device: screenshot, raw and
// parsed hierarchy, and screen size, captured together so no decision
// consumes a stale snapshot.
type perception struct {
	screenshotPath string
	xml            string
	nodes          []core.UINode
	screenW        int
	screenH        int
}

// perceive captures the current screen state. A session-class fault
// triggers exactly one transparent session restart before a second
// attempt; any other error propagates.
func (m *Machine) perceive() (perception, error) {
	per, err := m.perceiveOnce()
	if err == nil || !core.IsSessionError(err) {
		return per, err
	}

	m.log.Warn("session fault during perception, restarting session", map[string]interface{}{
		"error": err.Error(),
	})
	if rerr := m.session.RestartSession(); rerr != nil {
		return perception{}, fmt.Errorf("session restart failed: %w", rerr)
	}
	return m.perceiveOnce()
}

func (m *Machine) perceiveOnce() (perception, error) {
	shot, err := m.session.Screenshot()
	if err != nil {
		return perception{}, fmt.Errorf("capture screenshot: %w", err)
	}

	xml, err := m.session.Snapshot()
	if err != nil {
		return perception{}, fmt.Errorf("fetch snapshot: %w", err)
	}

	w, h, err := m.session.ScreenSize()
	if err != nil {
		return perception{}, fmt.Errorf("read screen size: %w", err)
	}

	nodes, err := hierarchy.Parse(xml)
	if err != nil {
		// A snapshot the parser cannot walk at all still leaves the
		// raw XML for the oracle; only structured lookups degrade.
		m.log.Warn("snapshot unparseable, continuing with raw XML only", map[string]interface{}{
			"error": err.Error(),
		})
		nodes = nil
	}

	return perception{
		screenshotPath: shot,
		xml:            xml,
		nodes:          nodes,
		screenW:        w,
		screenH:        h,
	}, nil
}

// ExecuteStepWithGuard is the sole entry point exposed upward: it runs
// one step through the guarded loop and reports success. All failure
// paths resolve to false; nothing escapes as an error or panic.
func (m *Machine) ExecuteStepWithGuard(goal string, step Step, screenshotPath string, maxCycles int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(nil, "step execution panicked", map[string]interface{}{
				"step":  step.Description,
				"panic": fmt.Sprint(r),
			})
			ok = false
		}
	}()

	res := m.RunStep(goal, step, screenshotPath, maxCycles)
	return res.Status.IsSuccess()
}

// RunStep drives the full state machine for one step and returns the
// detailed result. maxCycles <= 0 uses the configured default.
func (m *Machine) RunStep(goal string, step Step, screenshotPath string, maxCycles int) core.StepResult {
	if maxCycles <= 0 {
		maxCycles = m.opts.MaxCycles
	}

	res := core.StepResult{
		StepID:      step.ID,
		Description: step.Description,
		Status:      core.StatusRunning,
		StartTime:   time.Now(),
		MaxCycles:   maxCycles,
	}
	defer func() {
		res.Duration = time.Since(res.StartTime)
	}()

	hint := expectedHint(step)

	for cycle := 1; cycle <= maxCycles; cycle++ {
		res.Cycles = cycle
		intent := step.IntentFor(cycle)
		last := oracle.LastAction{Action: step.Action, Query: intent}
		m.log.Info("step cycle", map[string]interface{}{
			"step":  step.Description,
			"cycle": fmt.Sprintf("%d/%d", cycle, maxCycles),
		})
		if intent != step.Intent() {
			m.log.Info("trying alternative phrasing", map[string]interface{}{
				"step":   step.Description,
				"intent": intent,
			})
		}

		per, err := m.perceive()
		if err != nil {
			return m.errored(res, err)
		}

		// Pre-check: never re-do work that is already done.
		preShot := per.screenshotPath
		if preShot == "" {
			preShot = screenshotPath
		}
		pre, preErr := m.oracle.EvaluateOutcome(goal, step.Description, hint, oracle.LastAction{}, per.xml, preShot)
		if preErr == nil && pre.OK {
			m.log.Info("step already satisfied, skipping execution", map[string]interface{}{
				"step": step.Description,
			})
			res.Status = core.StatusPassed
			res.Message = "already satisfied"
			res.LastVerdict = &pre
			return res
		}
		if preErr != nil {
			m.log.Warn("pre-check evaluation unavailable, executing anyway", map[string]interface{}{
				"error": preErr.Error(),
			})
		}

		m.executeIntent(&res, per, intent, "execute")
		time.Sleep(m.opts.SettleDelay)

		// Evaluation always follows a fresh perception.
		per, err = m.perceive()
		if err != nil {
			return m.errored(res, err)
		}
		verdict, err := m.oracle.EvaluateOutcome(goal, step.Description, hint, last, per.xml, per.screenshotPath)
		if err != nil {
			m.log.Warn("evaluation unavailable, treating as redo", map[string]interface{}{
				"error": err.Error(),
			})
			verdict = core.EvaluationVerdict{Recovery: core.RecoveryRedoStep, Reason: err.Error()}
		}
		res.LastVerdict = &verdict
		m.log.Info("verdict", map[string]interface{}{
			"ok":       verdict.OK,
			"recovery": string(verdict.Recovery),
			"reason":   verdict.Reason,
		})

		if verdict.OK {
			res.Status = core.StatusPassed
			res.Flaky = len(res.Recoveries) > 0
			return res
		}

		if verdict.Recovery == core.RecoveryAbort {
			res.Status = core.StatusFailed
			res.Category = core.ErrCategoryPolicy
			res.Message = verdict.Reason
			m.log.Warn("abort advised by evaluator", map[string]interface{}{
				"reason": verdict.Reason,
			})
			return res
		}

		res.Recoveries = append(res.Recoveries, verdict.Recovery)
		if !m.recover(&res, goal, step, verdict, per) {
			res.Status = core.StatusFailed
			if res.Message == "" {
				res.Message = fmt.Sprintf("recovery %s failed", verdict.Recovery)
			}
			return res
		}
	}

	res.Status = core.StatusFailed
	res.Category = core.ErrCategoryPolicy
	res.Message = fmt.Sprintf("no success within %d cycles", maxCycles)
	m.log.Warn("cycle budget exhausted", map[string]interface{}{
		"step":   step.Description,
		"cycles": maxCycles,
	})
	return res
}

func (m *Machine) errored(res core.StepResult, err error) core.StepResult {
	res.Status = core.StatusErrored
	res.Category = core.CategoryOf(err)
	res.Error = err.Error()
	m.log.Error(err, "step errored", map[string]interface{}{
		"step": res.Description,
	})
	return res
}
