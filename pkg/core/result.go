package core

import (
	"time"
)

// ActionRecord is one dispatched action and its outcome, kept on the step
// result for diagnostics.
type ActionRecord struct {
	Action ResolvedAction `json:"action"`
	Status DispatchStatus `json:"status"`
	Detail string         `json:"detail,omitempty"`
	Phase  string         `json:"phase,omitempty"` // execute, recovery, guard
	At     time.Time      `json:"at"`
}

// StepResult captures the complete outcome of executing a single step
// through the guarded perceive-execute-evaluate loop.
type StepResult struct {
	// Identity
	StepID      string `json:"stepId"`
	Description string `json:"description"`
	Index       int    `json:"index"` // 0-based position in scenario

	// Status
	Status   StepStatus    `json:"status"`
	Category ErrorCategory `json:"errorCategory,omitempty"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Loop accounting
	Cycles     int            `json:"cycles"`    // perceive-execute-evaluate iterations spent
	MaxCycles  int            `json:"maxCycles"` // configured budget
	Recoveries []RecoveryKind `json:"recoveries,omitempty"`
	Flaky      bool           `json:"flaky,omitempty"` // passed after at least one recovery

	// Output
	Message     string             `json:"message,omitempty"`
	Actions     []ActionRecord     `json:"actions,omitempty"`
	LastVerdict *EvaluationVerdict `json:"lastVerdict,omitempty"`

	// Error Details
	Error string `json:"error,omitempty"`

	// Debug Artifacts
	Attachments []Attachment `json:"attachments,omitempty"`
}

// RecordAction appends a dispatched action to the step's trail.
func (s *StepResult) RecordAction(res DispatchResult, phase string) {
	s.Actions = append(s.Actions, ActionRecord{
		Action: res.Action,
		Status: res.Status,
		Detail: res.Detail,
		Phase:  phase,
		At:     time.Now(),
	})
}

// ScenarioResult captures the complete outcome of executing one scenario
type ScenarioResult struct {
	// Identity
	ScenarioID string `json:"scenarioId"`
	Title      string `json:"title"`

	// Status (aggregated from steps)
	Status StepStatus `json:"status"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Results
	Steps []StepResult `json:"steps"`

	// Summary (computed)
	TotalSteps   int `json:"totalSteps"`
	PassedSteps  int `json:"passedSteps"`
	FailedSteps  int `json:"failedSteps"`
	SkippedSteps int `json:"skippedSteps"`
	WarnedSteps  int `json:"warnedSteps"`
	FlakySteps   int `json:"flakySteps,omitempty"` // Steps that passed after recovery

	// Error info (if scenario failed)
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ComputeSummary calculates step counts from the Steps slice
func (r *ScenarioResult) ComputeSummary() {
	r.TotalSteps = len(r.Steps)
	r.PassedSteps = 0
	r.FailedSteps = 0
	r.SkippedSteps = 0
	r.WarnedSteps = 0
	r.FlakySteps = 0

	for _, step := range r.Steps {
		switch step.Status {
		case StatusPassed:
			r.PassedSteps++
		case StatusFailed, StatusErrored:
			r.FailedSteps++
		case StatusSkipped:
			r.SkippedSteps++
		case StatusWarned:
			r.WarnedSteps++
		}
		if step.Flaky {
			r.FlakySteps++
		}
	}
}

// hasFailure checks if any step in the slice has failed or errored
func hasFailure(steps []StepResult) bool {
	for _, step := range steps {
		if step.Status == StatusFailed || step.Status == StatusErrored {
			return true
		}
	}
	return false
}

// hasWarning checks if any step in the slice has warned status
func hasWarning(steps []StepResult) bool {
	for _, step := range steps {
		if step.Status == StatusWarned {
			return true
		}
	}
	return false
}

// AggregateStatus determines the scenario status from step results.
// Any failed/errored step fails the scenario; warned steps (optional
// failures) degrade a pass to warned.
func (r *ScenarioResult) AggregateStatus() StepStatus {
	if hasFailure(r.Steps) {
		return StatusFailed
	}
	if hasWarning(r.Steps) {
		return StatusWarned
	}
	return StatusPassed
}

// RunResult captures the complete outcome of executing a plan of scenarios
type RunResult struct {
	// Identity
	RunID string `json:"runId"` // Unique execution ID
	Goal  string `json:"goal"`  // Business goal driving the plan

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Results
	Scenarios []ScenarioResult `json:"scenarios"`

	// Summary
	TotalScenarios   int `json:"totalScenarios"`
	PassedScenarios  int `json:"passedScenarios"`
	FailedScenarios  int `json:"failedScenarios"`
	SkippedScenarios int `json:"skippedScenarios"`
	FlakyScenarios   int `json:"flakyScenarios,omitempty"` // Scenarios with flaky steps
}

// ComputeSummary calculates scenario counts from the Scenarios slice
func (r *RunResult) ComputeSummary() {
	r.TotalScenarios = len(r.Scenarios)
	r.PassedScenarios = 0
	r.FailedScenarios = 0
	r.SkippedScenarios = 0
	r.FlakyScenarios = 0

	for _, sc := range r.Scenarios {
		switch sc.Status {
		case StatusPassed, StatusWarned:
			r.PassedScenarios++
		case StatusFailed, StatusErrored:
			r.FailedScenarios++
		case StatusSkipped:
			r.SkippedScenarios++
		}
		if sc.FlakySteps > 0 {
			r.FlakyScenarios++
		}
	}
}

// Success returns true if all scenarios passed (including warned)
func (r *RunResult) Success() bool {
	for _, sc := range r.Scenarios {
		if !sc.Status.IsSuccess() {
			return false
		}
	}
	return len(r.Scenarios) > 0
}
