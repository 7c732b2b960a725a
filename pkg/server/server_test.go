package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/logger"
	"github.com/stepguard-dev/stepguard/pkg/scenario"
)

// fakeRunner resolves immediately unless block is set, and reports one
// scenario's worth of progress.
type fakeRunner struct {
	progress Progress
	block    chan struct{}
	fail     bool
}

func (f *fakeRunner) Run(_ context.Context, plan *scenario.Plan) (*core.RunResult, error) {
	if f.block != nil {
		<-f.block
	}

	status := core.StatusPassed
	if f.fail {
		status = core.StatusFailed
	}

	if f.progress.OnScenarioStart != nil {
		f.progress.OnScenarioStart(0, len(plan.Scenarios), "scenario-1", "first")
	}
	step := core.StepResult{StepID: "scenario-1-step-1", Status: status, Cycles: 1}
	if f.progress.OnStepComplete != nil {
		f.progress.OnStepComplete("scenario-1", step)
	}
	sc := core.ScenarioResult{ScenarioID: "scenario-1", Status: status, Steps: []core.StepResult{step}}
	if f.progress.OnScenarioEnd != nil {
		f.progress.OnScenarioEnd(sc)
	}

	run := &core.RunResult{RunID: "ignored", Goal: plan.Goal, Scenarios: []core.ScenarioResult{sc}}
	run.ComputeSummary()
	return run, nil
}

func newTestServer(t *testing.T, runner *fakeRunner, opts Options) *httptest.Server {
	t.Helper()
	if opts.RatePerSecond == 0 {
		opts.RatePerSecond = 1000
		opts.RateBurst = 1000
	}
	s := New(func(p Progress) (PlanRunner, error) {
		runner.progress = p
		return runner, nil
	}, opts, logger.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postPlan(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body := `{
		"business_goal": "post a comment",
		"scenarios": [
			{"steps": [{"description": "open the app"}]}
		]
	}`
	resp, err := http.Post(ts.URL+"/run", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "started", out["status"])
	require.NotEmpty(t, out["run_id"])
	return out["run_id"]
}

func getRun(t *testing.T, ts *httptest.Server, id string) RunView {
	t.Helper()
	resp, err := http.Get(ts.URL + "/runs/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view RunView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	return view
}

func waitForDone(t *testing.T, ts *httptest.Server, id string) RunView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view := getRun(t, ts, id)
		if view.Status != "running" {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return RunView{}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, Options{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRunLifecycle(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, Options{})

	id := postPlan(t, ts)
	view := waitForDone(t, ts, id)

	assert.Equal(t, "passed", view.Status)
	assert.Equal(t, "post a comment", view.Goal)
	require.NotNil(t, view.Result)
	assert.Equal(t, 1, view.Result.PassedScenarios)
}

func TestFailedRunReported(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{fail: true}, Options{})

	id := postPlan(t, ts)
	view := waitForDone(t, ts, id)
	assert.Equal(t, "failed", view.Status)
}

func TestRejectsMalformedAndInvalidPlans(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, Options{})

	resp, err := http.Post(ts.URL+"/run", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/run", "application/json", strings.NewReader(`{"business_goal": ""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConcurrentRunConflicts(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	ts := newTestServer(t, runner, Options{})

	id := postPlan(t, ts)

	resp, err := http.Post(ts.URL+"/run", "application/json",
		strings.NewReader(`{"business_goal": "second", "scenarios": [{"steps": [{"description": "x"}]}]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(runner.block)
	waitForDone(t, ts, id)

	// Slot freed: a new run is accepted.
	runner.block = nil
	postPlan(t, ts)
}

func TestUnknownRun(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, Options{})

	resp, err := http.Get(ts.URL + "/runs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/runs/nope/logs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogStreamReplaysHistory(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, Options{})

	id := postPlan(t, ts)
	waitForDone(t, ts, id)

	resp, err := http.Get(ts.URL + "/runs/" + id + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			lines = append(lines, strings.TrimPrefix(scanner.Text(), "data: "))
		}
	}

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "run accepted")
	assert.Contains(t, joined, "scenario 1/1 started")
	assert.Contains(t, joined, "step scenario-1-step-1: passed")
	assert.Contains(t, joined, "run finished: passed")
}

func TestRateLimiting(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, Options{RatePerSecond: 1, RateBurst: 2})

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, http.StatusOK, statuses[0])
	assert.Contains(t, statuses, http.StatusTooManyRequests)
}
