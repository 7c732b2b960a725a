package dispatch

import (
	"testing"
	"time"

	"github.com/stepguard-dev/stepguard/pkg/coords"
	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

// scriptedSession returns canned dispatch results in order, repeating
// the last one, and records every action it receives.
type scriptedSession struct {
	results []core.DispatchResult
	calls   []core.ResolvedAction
}

func (s *scriptedSession) Dispatch(a core.ResolvedAction) core.DispatchResult {
	s.calls = append(s.calls, a)
	if len(s.results) == 0 {
		return core.DispatchResult{Status: core.DispatchSuccess}
	}
	i := len(s.calls) - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]
}

func (s *scriptedSession) Snapshot() (string, error)     { return "", nil }
func (s *scriptedSession) Screenshot() (string, error)   { return "", nil }
func (s *scriptedSession) ScreenSize() (int, int, error) { return 1080, 1920, nil }
func (s *scriptedSession) HasSystemAlert() bool          { return false }
func (s *scriptedSession) RestartSession() error         { return nil }
func (s *scriptedSession) Close() error                  { return nil }

func fastOptions() Options {
	return Options{
		Retries:         3,
		RetryDelay:      time.Millisecond,
		GateWait:        time.Millisecond,
		FuzzySamples:    8,
		FuzzyRetries:    1,
		FuzzyDelay:      time.Millisecond,
		FallbackRetries: 2,
		ClickBox:        coords.DefaultClickBoxOptions(),
	}
}

func failed(detail string) core.DispatchResult {
	return core.DispatchResult{Status: core.DispatchFailure, Detail: detail}
}

func succeeded() core.DispatchResult {
	return core.DispatchResult{Status: core.DispatchSuccess}
}

func TestGateBlocksTerminate(t *testing.T) {
	d := New(&scriptedSession{}, fastOptions(), logger.Nop())

	got, gated := d.Gate(core.ResolvedAction{Kind: core.ActionTerminate})
	if !gated {
		t.Fatal("terminate was not gated")
	}
	if got.Kind != core.ActionWait {
		t.Errorf("gated action kind = %q, want wait", got.Kind)
	}
	if got.Seconds <= 0 {
		t.Errorf("gated wait has no duration: %v", got.Seconds)
	}
}

func TestGateBlocksSystemButtons(t *testing.T) {
	d := New(&scriptedSession{}, fastOptions(), logger.Nop())

	tests := []struct {
		button string
		gated  bool
	}{
		{"back", true},
		{"Back", true},
		{"home", true},
		{"recent", true},
		{"RECENTS", true},
		{"overview", true},
		{"enter", false},
		{"volume_up", false},
	}
	for _, tt := range tests {
		a := core.ResolvedAction{Kind: core.ActionSystemButton, Button: tt.button}
		got, gated := d.Gate(a)
		if gated != tt.gated {
			t.Errorf("Gate(system_button %q) gated = %v, want %v", tt.button, gated, tt.gated)
			continue
		}
		if gated && got.Kind != core.ActionWait {
			t.Errorf("Gate(system_button %q) rewrote to %q, want wait", tt.button, got.Kind)
		}
		if !gated && got != a {
			t.Errorf("Gate(system_button %q) altered a passing action", tt.button)
		}
	}
}

func TestGatePassesOrdinaryActions(t *testing.T) {
	d := New(&scriptedSession{}, fastOptions(), logger.Nop())

	a := core.ClickAction(core.Point{X: 100, Y: 200})
	got, gated := d.Gate(a)
	if gated {
		t.Fatal("click was gated")
	}
	if got.Kind != core.ActionClick || got.Point == nil || *got.Point != *a.Point {
		t.Errorf("Gate altered a click action: %v", got)
	}
}

func TestExecuteWithRetryLocalWait(t *testing.T) {
	sess := &scriptedSession{}
	d := New(sess, fastOptions(), logger.Nop())

	res := d.ExecuteWithRetry(core.WaitAction(0.001), 3, time.Millisecond)
	if !res.OK() {
		t.Fatalf("local wait reported %q", res.Status)
	}
	if len(sess.calls) != 0 {
		t.Errorf("local wait reached the device: %d calls", len(sess.calls))
	}
}

func TestExecuteWithRetryStrictSuccess(t *testing.T) {
	sess := &scriptedSession{results: []core.DispatchResult{
		failed("no response"),
		failed("no response"),
		succeeded(),
	}}
	d := New(sess, fastOptions(), logger.Nop())

	res := d.Execute(core.ClickAction(core.Point{X: 540, Y: 960}))
	if !res.OK() {
		t.Fatalf("expected success on third attempt, got %q (%s)", res.Status, res.Detail)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if len(sess.calls) != 3 {
		t.Errorf("device saw %d calls, want 3", len(sess.calls))
	}
}

func TestExecuteWithRetryErrorBurnsAttempt(t *testing.T) {
	sess := &scriptedSession{results: []core.DispatchResult{
		{Status: core.DispatchError, Detail: "session glitch"},
		succeeded(),
	}}
	d := New(sess, fastOptions(), logger.Nop())

	res := d.Execute(core.ClickAction(core.Point{X: 10, Y: 10}))
	if !res.OK() || res.Attempts != 2 {
		t.Errorf("result = %q attempts=%d, want success on attempt 2", res.Status, res.Attempts)
	}
}

func TestExecuteWithRetryExhaustsBudget(t *testing.T) {
	sess := &scriptedSession{results: []core.DispatchResult{failed("element stale")}}
	d := New(sess, fastOptions(), logger.Nop())

	action := core.ClickAction(core.Point{X: 540, Y: 960})
	res := d.ExecuteWithRetry(action, 3, 0)
	if res.OK() {
		t.Fatal("expected terminal failure")
	}
	if res.Status != core.DispatchFailure {
		t.Errorf("Status = %q, want failure", res.Status)
	}
	if res.Attempts != 3 || len(sess.calls) != 3 {
		t.Errorf("attempts = %d, device calls = %d, want 3 and 3", res.Attempts, len(sess.calls))
	}
	if res.Action.Kind != core.ActionClick {
		t.Errorf("terminal result lost the attempted action: %v", res.Action)
	}
	if res.Detail != "element stale" {
		t.Errorf("Detail = %q, want the last attempt's detail", res.Detail)
	}
}

// insideInclusive mirrors the sampling bounds: fuzzy click draws points
// inclusive of both box edges.
func insideInclusive(p core.Point, b core.Bounds) bool {
	return p.X >= b.X && p.X <= b.Right() && p.Y >= b.Y && p.Y <= b.Bottom()
}

func TestFuzzyClickStopsAtFirstSuccess(t *testing.T) {
	sess := &scriptedSession{results: []core.DispatchResult{
		failed("missed"),
		failed("missed"),
		succeeded(),
	}}
	opts := fastOptions()
	d := New(sess, opts, logger.Nop())

	pt := core.Point{X: 540, Y: 960}
	res := d.FuzzyClick(core.ClickAction(pt), nil, 1080, 1920)
	if !res.OK() {
		t.Fatalf("fuzzy click failed: %q", res.Detail)
	}
	if len(sess.calls) != 3 {
		t.Errorf("device saw %d calls, want 3", len(sess.calls))
	}

	box := coords.ClickBox(pt, nil, 1080, 1920, opts.ClickBox)
	for i, call := range sess.calls {
		if call.Point == nil {
			t.Fatalf("call %d carried no point", i)
		}
		if !insideInclusive(*call.Point, box) {
			t.Errorf("sample %d at %v outside box %+v", i, *call.Point, box)
		}
	}
}

func TestFuzzyClickFallsBackToOriginalPoint(t *testing.T) {
	sess := &scriptedSession{results: []core.DispatchResult{failed("dead zone")}}
	opts := fastOptions()
	d := New(sess, opts, logger.Nop())

	pt := core.Point{X: 300, Y: 400}
	res := d.FuzzyClick(core.ClickAction(pt), nil, 1080, 1920)
	if res.OK() {
		t.Fatal("expected failure when every attempt fails")
	}

	// 8 samples at 1 retry each, then 2 fallback attempts.
	want := opts.FuzzySamples*opts.FuzzyRetries + opts.FallbackRetries
	if len(sess.calls) != want {
		t.Fatalf("device saw %d calls, want %d", len(sess.calls), want)
	}
	for _, call := range sess.calls[opts.FuzzySamples:] {
		if call.Point == nil || *call.Point != pt {
			t.Errorf("fallback attempt at %v, want original %v", call.Point, pt)
		}
	}
}

func TestFuzzyClickSamplesClickableBounds(t *testing.T) {
	sess := &scriptedSession{results: []core.DispatchResult{failed("missed")}}
	opts := fastOptions()
	d := New(sess, opts, logger.Nop())

	target := core.UINode{
		Class:     "android.widget.Button",
		Clickable: true,
		Bounds:    core.Bounds{X: 900, Y: 800, Width: 120, Height: 90},
	}
	pt := core.Point{X: 940, Y: 830}
	d.FuzzyClick(core.ClickAction(pt), []core.UINode{target}, 1080, 1920)

	for i, call := range sess.calls[:opts.FuzzySamples] {
		if !insideInclusive(*call.Point, target.Bounds) {
			t.Errorf("sample %d at %v outside target bounds", i, *call.Point)
		}
	}
}

func TestFuzzyClickDelegatesNonClick(t *testing.T) {
	sess := &scriptedSession{results: []core.DispatchResult{failed("nope")}}
	d := New(sess, fastOptions(), logger.Nop())

	res := d.FuzzyClick(core.ResolvedAction{Kind: core.ActionType, Text: "hello"}, nil, 1080, 1920)
	if res.OK() {
		t.Fatal("expected failure")
	}
	if len(sess.calls) != 1 {
		t.Errorf("non-click path saw %d calls, want the single fuzzy retry", len(sess.calls))
	}
}
