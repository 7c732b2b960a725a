package stepexec

import (
	"errors"
	"testing"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/coords"
	"github.com/stepguard-dev/stepguard/pkg/dispatch"
	"github.com/stepguard-dev/stepguard/pkg/logger"
	"github.com/stepguard-dev/stepguard/pkg/oracle"
)

const plainSnapshot = `<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,1920]" clickable="false">
    <node class="android.widget.ImageButton" resource-id="com.example:id/comment_button" bounds="[980,900][1060,980]" clickable="true"/>
  </node>
</hierarchy>`

// fakeSession is a scripted device: fixed snapshot, counted calls,
// optional one-shot perception fault.
type fakeSession struct {
	xml           string
	dispatches    []core.ResolvedAction
	dispatchRes   core.DispatchStatus
	snapshotErr   error
	restarts      int
	snapshotReqs  int
	afterDispatch func()
}

func newFakeSession(xml string) *fakeSession {
	return &fakeSession{xml: xml, dispatchRes: core.DispatchSuccess}
}

func (f *fakeSession) Snapshot() (string, error) {
	f.snapshotReqs++
	if f.snapshotErr != nil {
		err := f.snapshotErr
		f.snapshotErr = nil
		return "", err
	}
	return f.xml, nil
}

func (f *fakeSession) Screenshot() (string, error)   { return "", nil }
func (f *fakeSession) ScreenSize() (int, int, error) { return 1080, 1920, nil }
func (f *fakeSession) HasSystemAlert() bool          { return false }
func (f *fakeSession) Close() error                  { return nil }

func (f *fakeSession) RestartSession() error {
	f.restarts++
	return nil
}

func (f *fakeSession) Dispatch(a core.ResolvedAction) core.DispatchResult {
	f.dispatches = append(f.dispatches, a)
	if f.afterDispatch != nil {
		f.afterDispatch()
	}
	return core.DispatchResult{Status: f.dispatchRes}
}

// scriptedOracle replays evaluation verdicts in order, repeating the
// last one. Proposals are a fixed click unless overridden.
type scriptedOracle struct {
	verdicts  []core.EvaluationVerdict
	evalCalls int
	proposal  core.ProposedAction
	proposals int
}

func (s *scriptedOracle) EvaluateOutcome(_, _, _ string, _ oracle.LastAction, _, _ string) (core.EvaluationVerdict, error) {
	i := s.evalCalls
	s.evalCalls++
	if len(s.verdicts) == 0 {
		return core.EvaluationVerdict{}, errors.New("no scripted verdicts")
	}
	if i >= len(s.verdicts) {
		i = len(s.verdicts) - 1
	}
	return s.verdicts[i], nil
}

func (s *scriptedOracle) ProposeAction(_, _, _ string) (core.ProposedAction, error) {
	s.proposals++
	if s.proposal.Name == "" {
		return core.ProposedAction{Name: "click", Coordinate: &core.Point{X: 500, Y: 500}}, nil
	}
	return s.proposal, nil
}

func (s *scriptedOracle) Disambiguate(_ string, candidates []core.UINode, _ string) (int, error) {
	if len(candidates) == 0 {
		return 0, errors.New("no candidates")
	}
	return 0, nil
}

func fastMachineOptions() Options {
	opts := DefaultOptions()
	opts.SettleDelay = time.Millisecond
	opts.RecoverySettle = time.Millisecond
	opts.SuggestionDelay = time.Millisecond
	opts.Snap = coords.DefaultSnapOptions()
	return opts
}

func fastDispatcher(s core.Session) *dispatch.Dispatcher {
	return dispatch.New(s, dispatch.Options{
		Retries:         2,
		RetryDelay:      time.Millisecond,
		GateWait:        time.Millisecond,
		FuzzySamples:    2,
		FuzzyRetries:    1,
		FuzzyDelay:      time.Millisecond,
		FallbackRetries: 1,
	}, logger.Nop())
}

func newMachine(s core.Session, o Oracle) *Machine {
	return New(s, o, fastDispatcher(s), nil, fastMachineOptions(), logger.Nop())
}

func notOK(recovery core.RecoveryKind) core.EvaluationVerdict {
	return core.EvaluationVerdict{OK: false, Recovery: recovery}
}

func TestRunStepPreCheckShortCircuits(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{{OK: true, Recovery: core.RecoveryNone}}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "open comments"}, "", 3)

	if res.Status != core.StatusPassed {
		t.Fatalf("status = %v, want passed", res.Status)
	}
	if len(sess.dispatches) != 0 {
		t.Errorf("pre-check success still dispatched %d actions", len(sess.dispatches))
	}
	if res.Message != "already satisfied" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestRunStepPassesAfterExecute(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryNone),                // pre-check: not yet done
		{OK: true, Recovery: core.RecoveryNone}, // post-execute: done
	}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "tap the comment button", Query: "comment_button"}, "", 3)

	if res.Status != core.StatusPassed {
		t.Fatalf("status = %v, want passed (verdicts seen: %d)", res.Status, orc.evalCalls)
	}
	if res.Cycles != 1 {
		t.Errorf("cycles = %d, want 1", res.Cycles)
	}
	if res.Flaky {
		t.Error("step passed without recovery but marked flaky")
	}
	if len(sess.dispatches) == 0 {
		t.Fatal("no action dispatched")
	}
	// comment_button matched uniquely in the hierarchy, so the click
	// hits its center.
	first := sess.dispatches[0]
	if first.Kind != core.ActionClick || first.Point == nil {
		t.Fatalf("first action = %v, want click with point", first)
	}
	if first.Point.X != 1020 || first.Point.Y != 940 {
		t.Errorf("click point = %v, want (1020, 940)", first.Point)
	}
}

func TestRunStepAbortFailsAfterOneCycle(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryNone),
		{OK: false, Recovery: core.RecoveryAbort, Reason: "wrong app"},
	}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "tap comment_button", Query: "comment_button"}, "", 3)

	if res.Status != core.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if res.Cycles != 1 {
		t.Errorf("cycles = %d, want exactly 1", res.Cycles)
	}
	if len(res.Recoveries) != 0 {
		t.Errorf("abort dispatched %d recoveries, want 0", len(res.Recoveries))
	}
	if res.Message != "wrong app" {
		t.Errorf("abort reason not propagated verbatim: %q", res.Message)
	}
	if res.Category != core.ErrCategoryPolicy {
		t.Errorf("category = %v, want policy", res.Category)
	}
}

func TestRunStepTerminatesWithinCycleBudget(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	// Every verdict asks for another redo; the machine must still stop.
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryRedoStep),
	}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "tap comment_button", Query: "comment_button"}, "", 3)

	if res.Status != core.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if res.Cycles != 3 {
		t.Errorf("cycles = %d, want 3", res.Cycles)
	}
	if len(res.Recoveries) != 3 {
		t.Errorf("recoveries = %d, want 3", len(res.Recoveries))
	}
	if res.Category != core.ErrCategoryPolicy {
		t.Errorf("category = %v, want policy", res.Category)
	}
}

func TestRunStepRestartsSessionOncePerPerception(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	sess.snapshotErr = core.ErrSessionCrashed
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{{OK: true}}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "anything"}, "", 3)

	if res.Status != core.StatusPassed {
		t.Fatalf("status = %v, want passed after transparent restart", res.Status)
	}
	if sess.restarts != 1 {
		t.Errorf("restarts = %d, want 1", sess.restarts)
	}
}

func TestRunStepPropagatesNonSessionPerceptionError(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	sess.snapshotErr = errors.New("boom")
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{{OK: true}}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "anything"}, "", 3)

	if res.Status != core.StatusErrored {
		t.Fatalf("status = %v, want errored", res.Status)
	}
	if sess.restarts != 0 {
		t.Errorf("restarts = %d, want 0 for a non-session error", sess.restarts)
	}
}

func TestExecuteStepWithGuardNeverRaises(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		{OK: false, Recovery: core.RecoveryAbort, Reason: "abort"},
	}}
	m := newMachine(sess, orc)

	if m.ExecuteStepWithGuard("goal", Step{Description: "x"}, "", 2) {
		t.Error("aborted step reported success")
	}

	orc2 := &scriptedOracle{verdicts: []core.EvaluationVerdict{{OK: true}}}
	m2 := newMachine(newFakeSession(plainSnapshot), orc2)
	if !m2.ExecuteStepWithGuard("goal", Step{Description: "x"}, "", 2) {
		t.Error("satisfied step reported failure")
	}
}

func TestRunStepFlakyAfterRecovery(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryNone),     // cycle 1 pre-check
		notOK(core.RecoveryRedoStep), // cycle 1 evaluate: redo
		notOK(core.RecoveryNone),     // cycle 2 pre-check
		{OK: true},                   // cycle 2 evaluate: done
	}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "tap comment_button", Query: "comment_button"}, "", 3)

	if res.Status != core.StatusPassed {
		t.Fatalf("status = %v, want passed", res.Status)
	}
	if !res.Flaky {
		t.Error("pass after recovery not marked flaky")
	}
	if len(res.Recoveries) != 1 || res.Recoveries[0] != core.RecoveryRedoStep {
		t.Errorf("recoveries = %v", res.Recoveries)
	}
}

// phrasingOracle accepts exactly one phrasing: evaluation passes only
// when the last executed intent matches it. Proposals record every
// intent they were asked for.
type phrasingOracle struct {
	accept  string
	intents []string
}

func (o *phrasingOracle) ProposeAction(_, _, intent string) (core.ProposedAction, error) {
	o.intents = append(o.intents, intent)
	return core.ProposedAction{Name: "click", Coordinate: &core.Point{X: 500, Y: 500}}, nil
}

func (o *phrasingOracle) EvaluateOutcome(_, _, _ string, last oracle.LastAction, _, _ string) (core.EvaluationVerdict, error) {
	if last.Query == o.accept {
		return core.EvaluationVerdict{OK: true}, nil
	}
	return core.EvaluationVerdict{OK: false, Recovery: core.RecoveryRedoStep}, nil
}

func (o *phrasingOracle) Disambiguate(string, []core.UINode, string) (int, error) {
	return 0, errors.New("no candidates")
}

func TestRunStepTriesAlternativePhrasings(t *testing.T) {
	orc := &phrasingOracle{accept: "press the paper-plane icon"}
	m := newMachine(newFakeSession(plainSnapshot), orc)

	step := Step{
		ID:           "s1",
		Description:  "send the message",
		Query:        "no-such-element",
		Alternatives: []string{"press the paper-plane icon", "tap the arrow at the bottom right"},
	}
	res := m.RunStep("goal", step, "", 3)

	if res.Status != core.StatusPassed {
		t.Fatalf("status = %v, want passed (message: %s)", res.Status, res.Message)
	}
	if res.Cycles != 2 {
		t.Errorf("cycles = %d, want 2 (pass on the first alternative)", res.Cycles)
	}
	want := []string{"no-such-element", "press the paper-plane icon"}
	if len(orc.intents) != len(want) {
		t.Fatalf("proposed intents = %v, want %v", orc.intents, want)
	}
	for i := range want {
		if orc.intents[i] != want[i] {
			t.Errorf("intent[%d] = %q, want %q", i, orc.intents[i], want[i])
		}
	}
	if !res.Flaky {
		t.Error("pass via alternative phrasing not marked flaky")
	}
}

func TestStepIntentForExhaustsAlternatives(t *testing.T) {
	s := Step{Query: "primary", Alternatives: []string{"alt1", "alt2"}}
	got := []string{s.IntentFor(1), s.IntentFor(2), s.IntentFor(3), s.IntentFor(4)}
	want := []string{"primary", "alt1", "alt2", "alt2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IntentFor(%d) = %q, want %q", i+1, got[i], want[i])
		}
	}

	plain := Step{Description: "do the thing"}
	if plain.IntentFor(3) != "do the thing" {
		t.Errorf("IntentFor without alternatives = %q", plain.IntentFor(3))
	}
}
