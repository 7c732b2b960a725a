package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/device"
	"github.com/stepguard-dev/stepguard/pkg/dispatch"
	"github.com/stepguard-dev/stepguard/pkg/logger"
	"github.com/stepguard-dev/stepguard/pkg/oracle"
	"github.com/stepguard-dev/stepguard/pkg/scenario"
	"github.com/stepguard-dev/stepguard/pkg/stepexec"
)

// keywordOracle judges by step description: anything containing "fails"
// draws an abort verdict, everything else is satisfied on sight.
type keywordOracle struct{}

func (keywordOracle) EvaluateOutcome(_, stepDescription, _ string, _ oracle.LastAction, _, _ string) (core.EvaluationVerdict, error) {
	if strings.Contains(stepDescription, "fails") {
		return core.EvaluationVerdict{OK: false, Recovery: core.RecoveryAbort, Reason: "wrong screen"}, nil
	}
	return core.EvaluationVerdict{OK: true}, nil
}

func (keywordOracle) ProposeAction(_, _, _ string) (core.ProposedAction, error) {
	return core.ProposedAction{Name: "click", Coordinate: &core.Point{X: 100, Y: 100}}, nil
}

func (keywordOracle) Disambiguate(_ string, _ []core.UINode, _ string) (int, error) {
	return 0, nil
}

func newTestRunner(t *testing.T, cfg Config) (*Runner, *device.Fake) {
	t.Helper()
	sess := device.NewFake(1080, 1920, `<hierarchy rotation="0"/>`)
	d := dispatch.New(sess, dispatch.Options{
		Retries:         1,
		RetryDelay:      time.Millisecond,
		GateWait:        time.Millisecond,
		FuzzySamples:    1,
		FuzzyRetries:    1,
		FuzzyDelay:      time.Millisecond,
		FallbackRetries: 1,
	}, logger.Nop())
	opts := stepexec.DefaultOptions()
	opts.SettleDelay = time.Millisecond
	opts.RecoverySettle = time.Millisecond
	opts.SuggestionDelay = time.Millisecond
	m := stepexec.New(sess, keywordOracle{}, d, nil, opts, logger.Nop())
	return New(m, sess, cfg, logger.Nop()), sess
}

func plan(goal string, scenarios ...scenario.Scenario) *scenario.Plan {
	return &scenario.Plan{Goal: goal, Scenarios: scenarios}
}

func steps(descs ...string) []scenario.Step {
	out := make([]scenario.Step, len(descs))
	for i, d := range descs {
		out[i] = scenario.Step{Description: d, Action: "click"}
	}
	return out
}

func TestRunAllScenariosPass(t *testing.T) {
	var started, stepsDone, ended int
	r, _ := newTestRunner(t, Config{
		OnScenarioStart: func(_, _ int, _, _ string) { started++ },
		OnStepComplete:  func(_ string, _ core.StepResult) { stepsDone++ },
		OnScenarioEnd:   func(_ core.ScenarioResult) { ended++ },
	})

	p := plan("post a comment",
		scenario.Scenario{Title: "open app", Steps: steps("open the app", "dismiss the tour")},
		scenario.Scenario{Title: "comment", Steps: steps("tap the comment field")},
	)

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, 2, res.PassedScenarios)
	assert.Equal(t, 0, res.FailedScenarios)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, started)
	assert.Equal(t, 3, stepsDone)
	assert.Equal(t, 2, ended)
}

func TestRequiredFailureSkipsRemainingSteps(t *testing.T) {
	r, _ := newTestRunner(t, Config{})

	p := plan("checkout",
		scenario.Scenario{Steps: steps("open cart", "this step fails", "pay")},
	)

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, res.Scenarios, 1)
	sc := res.Scenarios[0]
	assert.Equal(t, core.StatusFailed, sc.Status)
	require.Len(t, sc.Steps, 3)
	assert.Equal(t, core.StatusPassed, sc.Steps[0].Status)
	assert.Equal(t, core.StatusFailed, sc.Steps[1].Status)
	assert.Equal(t, core.StatusSkipped, sc.Steps[2].Status)
	assert.Equal(t, 1, sc.SkippedSteps)
	assert.NotEmpty(t, sc.Message)
}

func TestOptionalFailureWarnsAndContinues(t *testing.T) {
	r, _ := newTestRunner(t, Config{})

	p := plan("browse",
		scenario.Scenario{Steps: []scenario.Step{
			{Description: "dismiss survey, often fails", Optional: true},
			{Description: "open the feed"},
		}},
	)

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	sc := res.Scenarios[0]
	assert.Equal(t, core.StatusWarned, sc.Status)
	assert.Equal(t, core.StatusWarned, sc.Steps[0].Status)
	assert.Equal(t, core.StatusPassed, sc.Steps[1].Status)
	assert.True(t, res.Success())
}

func TestStopOnFailSkipsRemainingScenarios(t *testing.T) {
	r, _ := newTestRunner(t, Config{StopOnFail: true})

	p := plan("regression",
		scenario.Scenario{Steps: steps("this step fails")},
		scenario.Scenario{Steps: steps("never runs")},
	)

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, res.Scenarios, 2)
	assert.Equal(t, core.StatusFailed, res.Scenarios[0].Status)
	assert.Equal(t, core.StatusSkipped, res.Scenarios[1].Status)
	assert.Equal(t, 1, res.SkippedScenarios)
}

func TestCancelledContextSkipsWork(t *testing.T) {
	r, sess := newTestRunner(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := plan("anything", scenario.Scenario{Steps: steps("open the app")})
	res, err := r.Run(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SkippedScenarios)
	assert.Empty(t, sess.Dispatched())
}

func TestPreHookFailureFailsStep(t *testing.T) {
	r, sess := newTestRunner(t, Config{})

	p := plan("guarded",
		scenario.Scenario{Steps: []scenario.Step{
			{Description: "open the app", Script: scenario.Hooks{Pre: `throw new Error("fixture missing")`}},
		}},
	)

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	sr := res.Scenarios[0].Steps[0]
	assert.Equal(t, core.StatusFailed, sr.Status)
	assert.Contains(t, sr.Message, "pre-step script")
	assert.Contains(t, sr.Error, "fixture missing")
	assert.Empty(t, sess.Dispatched())
}

func TestPostHookRunsAfterPassingStep(t *testing.T) {
	r, _ := newTestRunner(t, Config{})

	p := plan("asserted",
		scenario.Scenario{Steps: []scenario.Step{
			{Description: "open the app", Script: scenario.Hooks{Post: `output.checked = true`}},
			{Description: "open settings", Script: scenario.Hooks{Post: `if (!output.checked) throw new Error("ordering broken")`}},
		}},
	)

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Success())
}

func TestInvalidPlanRejectedBeforeExecution(t *testing.T) {
	r, sess := newTestRunner(t, Config{})

	_, err := r.Run(context.Background(), &scenario.Plan{})
	require.Error(t, err)
	assert.Empty(t, sess.Dispatched())
}

func TestConfigEnvReachesInterpolation(t *testing.T) {
	r, _ := newTestRunner(t, Config{Env: map[string]string{"USER_NAME": "tester", "APP": "shortvid"}})

	p := plan("greet the user",
		scenario.Scenario{Title: "greet", Steps: []scenario.Step{
			{Description: "type ${USER_NAME} into the name field"},
			{Description: "open ${APP}"},
		}},
	)
	p.Env = map[string]string{"APP": "longvid"} // plan keys win

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	require.True(t, res.Success())

	got := res.Scenarios[0].Steps
	assert.Equal(t, "type tester into the name field", got[0].Description)
	assert.Equal(t, "open longvid", got[1].Description)
}
