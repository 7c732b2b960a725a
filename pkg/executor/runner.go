// Package executor walks a scenario plan through the guarded step
// machine: one device session, one step in flight, scenarios in order.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stepguard-dev/stepguard/pkg/artifacts"
	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/jsengine"
	"github.com/stepguard-dev/stepguard/pkg/logger"
	"github.com/stepguard-dev/stepguard/pkg/scenario"
	"github.com/stepguard-dev/stepguard/pkg/stepexec"
)

// Config configures a runner.
type Config struct {
	// StopOnFail skips the remaining scenarios after the first scenario
	// failure. Steps after a failed required step are always skipped
	// within their scenario.
	StopOnFail bool

	// Artifacts receives per-step captures when set.
	Artifacts *artifacts.Store

	// Env is merged under the plan's env before interpolation; keys
	// the plan sets itself win.
	Env map[string]string

	// Live progress callbacks. All optional.
	OnScenarioStart func(idx, total int, id, title string)
	OnStepComplete  func(scenarioID string, res core.StepResult)
	OnScenarioEnd   func(res core.ScenarioResult)
}

// Runner executes plans against one step machine.
type Runner struct {
	machine *stepexec.Machine
	session core.Session
	cfg     Config
	log     *logger.Logger
}

// New wires a runner around an already-constructed step machine and its
// session.
func New(machine *stepexec.Machine, session core.Session, cfg Config, log *logger.Logger) *Runner {
	return &Runner{
		machine: machine,
		session: session,
		cfg:     cfg,
		log:     log.WithComponent("executor"),
	}
}

// Run executes every scenario in the plan sequentially and returns the
// aggregated result. The plan is validated and interpolated before the
// first step runs; a plan that cannot be prepared returns an error, a
// plan that runs always returns a result.
func (r *Runner) Run(ctx context.Context, plan *scenario.Plan) (*core.RunResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	for k, v := range r.cfg.Env {
		if _, ok := plan.Env[k]; ok {
			continue
		}
		if plan.Env == nil {
			plan.Env = make(map[string]string, len(r.cfg.Env))
		}
		plan.Env[k] = v
	}

	eng := jsengine.New(r.log)
	defer eng.Close()
	if err := plan.Interpolate(eng); err != nil {
		return nil, err
	}

	run := &core.RunResult{
		RunID:     uuid.NewString(),
		Goal:      plan.Goal,
		StartTime: time.Now(),
	}

	r.log.Info("run started", map[string]interface{}{
		"run":       run.RunID,
		"goal":      plan.Goal,
		"scenarios": len(plan.Scenarios),
	})

	stopped := false
	for i, sc := range plan.Scenarios {
		if stopped || ctx.Err() != nil {
			run.Scenarios = append(run.Scenarios, skippedScenario(sc, "run stopped"))
			continue
		}

		if r.cfg.OnScenarioStart != nil {
			r.cfg.OnScenarioStart(i, len(plan.Scenarios), sc.ID, sc.Title)
		}

		res := r.runScenario(ctx, plan.Goal, sc, eng)
		run.Scenarios = append(run.Scenarios, res)

		if r.cfg.OnScenarioEnd != nil {
			r.cfg.OnScenarioEnd(res)
		}
		if r.cfg.StopOnFail && res.Status == core.StatusFailed {
			stopped = true
		}
	}

	run.Duration = time.Since(run.StartTime)
	run.ComputeSummary()

	r.log.Info("run finished", map[string]interface{}{
		"run":      run.RunID,
		"passed":   run.PassedScenarios,
		"failed":   run.FailedScenarios,
		"skipped":  run.SkippedScenarios,
		"duration": run.Duration.String(),
	})
	return run, nil
}

// runScenario executes one scenario's steps in order. The first failed
// required step fails the scenario and skips the rest.
func (r *Runner) runScenario(ctx context.Context, goal string, sc scenario.Scenario, eng *jsengine.Engine) core.ScenarioResult {
	res := core.ScenarioResult{
		ScenarioID: sc.ID,
		Title:      sc.Title,
		StartTime:  time.Now(),
	}

	r.log.Info("scenario started", map[string]interface{}{
		"scenario": sc.ID,
		"title":    sc.Title,
		"steps":    len(sc.Steps),
	})

	failed := false
	for i, step := range sc.Steps {
		if failed || ctx.Err() != nil {
			res.Steps = append(res.Steps, skippedStep(step, i))
			continue
		}

		sr := r.runStep(goal, step, eng)
		sr.Index = i

		if sr.Status == core.StatusFailed && step.Optional {
			sr.Status = core.StatusWarned
			r.log.Warn("optional step failed", map[string]interface{}{
				"step": step.ID,
			})
		}

		if r.cfg.Artifacts != nil {
			r.cfg.Artifacts.CaptureStep(&sr, r.session)
		}
		if r.cfg.OnStepComplete != nil {
			r.cfg.OnStepComplete(sc.ID, sr)
		}

		res.Steps = append(res.Steps, sr)

		if sr.Status == core.StatusFailed || sr.Status == core.StatusErrored {
			failed = true
			res.Error = sr.Error
			res.Message = fmt.Sprintf("step %s failed: %s", sr.StepID, sr.Message)
		}
	}

	res.Duration = time.Since(res.StartTime)
	res.ComputeSummary()
	if ctx.Err() != nil && !failed {
		res.Status = core.StatusSkipped
		res.Message = "run cancelled"
	} else {
		res.Status = res.AggregateStatus()
	}

	r.log.Info("scenario finished", map[string]interface{}{
		"scenario": sc.ID,
		"status":   res.Status.String(),
		"passed":   res.PassedSteps,
		"failed":   res.FailedSteps,
	})
	return res
}

// runStep runs one step's pre hook, the guarded loop, and its post
// hook. Hook failures fail the step without touching the device.
func (r *Runner) runStep(goal string, step scenario.Step, eng *jsengine.Engine) core.StepResult {
	if step.Script.Pre != "" {
		if err := eng.RunScript(step.Script.Pre); err != nil {
			return hookFailure(step, "pre", err)
		}
	}

	res := r.machine.RunStep(goal, step.Exec(), "", step.MaxCycles)

	if step.Script.Post != "" && res.Status.IsSuccess() {
		if err := eng.RunScript(step.Script.Post); err != nil {
			return hookFailure(step, "post", err)
		}
	}
	return res
}

func hookFailure(step scenario.Step, phase string, err error) core.StepResult {
	return core.StepResult{
		StepID:      step.ID,
		Description: step.Description,
		Status:      core.StatusFailed,
		StartTime:   time.Now(),
		Message:     fmt.Sprintf("%s-step script failed", phase),
		Error:       err.Error(),
	}
}

func skippedStep(step scenario.Step, idx int) core.StepResult {
	return core.StepResult{
		StepID:      step.ID,
		Description: step.Description,
		Index:       idx,
		Status:      core.StatusSkipped,
		StartTime:   time.Now(),
		Message:     "skipped after earlier failure",
	}
}

func skippedScenario(sc scenario.Scenario, reason string) core.ScenarioResult {
	res := core.ScenarioResult{
		ScenarioID: sc.ID,
		Title:      sc.Title,
		StartTime:  time.Now(),
		Status:     core.StatusSkipped,
		Message:    reason,
	}
	for i, step := range sc.Steps {
		res.Steps = append(res.Steps, skippedStep(step, i))
	}
	res.ComputeSummary()
	return res
}
