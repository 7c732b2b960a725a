package stepexec

import (
	"testing"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/interrupt"
	"github.com/stepguard-dev/stepguard/pkg/logger"
)

const permissionSnapshot = `<hierarchy rotation="0">
  <node class="android.app.Dialog" bounds="[0,280][1080,1620]" clickable="false">
    <node class="android.widget.TextView" text="Allow camera access" bounds="[80,400][1000,480]"/>
    <node class="android.widget.Button" text="Allow while using the app" bounds="[80,1300][1000,1400]" clickable="true"/>
    <node class="android.widget.Button" text="Don't allow" bounds="[80,1450][1000,1550]" clickable="true"/>
  </node>
</hierarchy>`

func TestGrantPermissionTapsPriorityAllowControl(t *testing.T) {
	sess := newFakeSession(permissionSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryNone), // cycle 1 pre-check
		{OK: false, Recovery: core.RecoveryGrantPermission, GateType: core.GatePermission}, // cycle 1 evaluate
		notOK(core.RecoveryNone), // cycle 2 pre-check
		{OK: true},               // cycle 2 evaluate
	}}
	m := newMachine(sess, orc)

	res := m.RunStep("record a video", Step{ID: "s1", Description: "open the camera", Query: "no-such-element"}, "", 3)

	if res.Status != core.StatusPassed {
		t.Fatalf("status = %v, want passed", res.Status)
	}

	// The first allow selector in priority order matches "Allow while
	// using the app"; its center must have been tapped.
	want := core.Point{X: 540, Y: 1350}
	found := false
	for _, a := range sess.dispatches {
		if a.Kind == core.ActionClick && a.Point != nil && *a.Point == want {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("allow control at %v never tapped; dispatches: %v", want, sess.dispatches)
	}
	if len(res.Recoveries) != 1 || res.Recoveries[0] != core.RecoveryGrantPermission {
		t.Errorf("recoveries = %v", res.Recoveries)
	}
}

func TestGrantPermissionFailsWithoutAllowControl(t *testing.T) {
	sess := newFakeSession(plainSnapshot) // no allow control anywhere
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryNone),
		{OK: false, Recovery: core.RecoveryGrantPermission},
	}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "open camera", Query: "no-such-element"}, "", 3)

	if res.Status != core.StatusFailed {
		t.Fatalf("status = %v, want failed when the gate cannot be cleared", res.Status)
	}
	if res.Cycles != 1 {
		t.Errorf("cycles = %d, want 1: grant failure aborts the step", res.Cycles)
	}
}

func TestRequireAuthDefaultsToSignInIntent(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryNone),
		{OK: false, Recovery: core.RecoveryRequireAuth, GateType: core.GateLogin},
		notOK(core.RecoveryNone),
		{OK: true},
	}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "post a comment", Query: "no-such-element"}, "", 3)

	if res.Status != core.StatusPassed {
		t.Fatalf("status = %v, want passed", res.Status)
	}
	// The auth recovery with no suggestions proposes the default
	// sign-in intent, which falls through to an oracle proposal.
	if orc.proposals == 0 {
		t.Error("no proposal requested for the default auth intent")
	}
}

func TestRedoStepActionizesAtMostMaxSuggestions(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryNone),
		{
			OK:          false,
			Recovery:    core.RecoveryRedoStep,
			Suggestions: []string{"Tap 'Close'", "Tap 'Skip'", "Tap 'Not now'", "Tap 'Later'", "Tap 'Dismiss'"},
		},
	}}
	m := newMachine(sess, orc)

	res := m.RunStep("goal", Step{ID: "s1", Description: "tap comment_button", Query: "comment_button"}, "", 1)

	if res.Status != core.StatusFailed {
		t.Fatalf("status = %v, want failed with a one-cycle budget", res.Status)
	}

	// One execute click plus at most MaxSuggestions recovery intents.
	recoveryActions := 0
	for _, a := range res.Actions {
		if a.Phase == "recovery" {
			recoveryActions++
		}
	}
	if recoveryActions > m.Options().MaxSuggestions {
		t.Errorf("recovery actions = %d, want <= %d", recoveryActions, m.Options().MaxSuggestions)
	}
	if recoveryActions == 0 {
		t.Error("no suggestions were actionized")
	}
}

func TestHandleInterruptFallsBackToCornerCloses(t *testing.T) {
	sess := newFakeSession(plainSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryNone),
		{OK: false, Recovery: core.RecoveryHandleInterrupt}, // no suggestions
	}}
	m := newMachine(sess, orc) // nil guard: detection skipped entirely

	res := m.RunStep("goal", Step{ID: "s1", Description: "tap comment_button", Query: "comment_button"}, "", 1)

	if res.Status != core.StatusFailed {
		t.Fatalf("status = %v, want failed with a one-cycle budget", res.Status)
	}

	// First corner close is (0.97w, 0.03h) on a 1080x1920 screen.
	want := core.Point{X: 1047, Y: 57}
	found := false
	for _, a := range res.Actions {
		if a.Phase == "recovery" && a.Action.Point != nil && *a.Action.Point == want {
			found = true
		}
	}
	if !found {
		t.Errorf("no corner close at %v; actions: %+v", want, res.Actions)
	}
}

func TestHandleInterruptClearsDetectedOverlay(t *testing.T) {
	sess := newFakeSession(permissionSnapshot)
	orc := &scriptedOracle{verdicts: []core.EvaluationVerdict{
		notOK(core.RecoveryNone),
		{OK: false, Recovery: core.RecoveryHandleInterrupt},
		notOK(core.RecoveryNone),
		{OK: true},
	}}

	d := fastDispatcher(sess)
	guard := interrupt.NewGuard(sess, d, stubDecider{}, fastGuardOptions(), logger.Nop())
	m := New(sess, orc, d, guard, fastMachineOptions(), logger.Nop())

	// The dialog stops being detected once the session swaps to a
	// clean snapshot after the first handling action.
	sess.afterDispatch = func() { sess.xml = plainSnapshot }

	res := m.RunStep("record a video", Step{ID: "s1", Description: "open the camera", Query: "no-such-element"}, "", 3)

	if res.Status != core.StatusPassed {
		t.Fatalf("status = %v, want passed", res.Status)
	}
	if len(res.Recoveries) != 1 || res.Recoveries[0] != core.RecoveryHandleInterrupt {
		t.Errorf("recoveries = %v", res.Recoveries)
	}
}

func TestExpectedHintDerivation(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want string
	}{
		{
			name: "explicit expected state wins",
			step: Step{Description: "comment on the video", ExpectedState: "custom"},
			want: "custom",
		},
		{
			name: "comment mention",
			step: Step{Description: "Open the comments panel"},
			want: "Comment UI visible (input field or comments list present)",
		},
		{
			name: "click action",
			step: Step{Description: "press the button", Action: "click"},
			want: "Target element reflects clicked state or expected screen appears",
		},
		{
			name: "type action",
			step: Step{Description: "enter the text", Action: "type"},
			want: "Text field contains newly entered text and the send/submit button is enabled",
		},
		{
			name: "swipe action",
			step: Step{Description: "go down the feed", Action: "swipe"},
			want: "Content position changed in scrollable region",
		},
		{
			name: "default",
			step: Step{Description: "do the thing"},
			want: "Screen reflects successful completion of the described step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expectedHint(tt.step); got != tt.want {
				t.Errorf("expectedHint() = %q, want %q", got, tt.want)
			}
		})
	}
}

// stubDecider always asks for a dismissal with no concrete actions.
type stubDecider struct{}

func (stubDecider) DecideInterruption(_ core.Interruption, _, _, _, _ string) (core.InterruptResolution, error) {
	return core.InterruptResolution{Decision: core.DecisionDismiss}, nil
}

func fastGuardOptions() interrupt.Options {
	opts := interrupt.DefaultOptions()
	opts.SettleDelay = 1
	opts.ActionDelay = 1
	opts.DismissDelay = 1
	return opts
}
