package core

import "strings"

// RecoveryKind names the recovery strategy an evaluation verdict asks
// for. Values match the oracle's wire vocabulary verbatim.
type RecoveryKind string

// Recovery strategies, in the oracle's wire spelling.
const (
	RecoveryNone            RecoveryKind = "NONE"
	RecoveryRedoStep        RecoveryKind = "REDO_STEP"
	RecoveryHandleInterrupt RecoveryKind = "HANDLE_INTERRUPT"
	RecoveryRequireAuth     RecoveryKind = "REQUIRE_AUTH"
	RecoveryGrantPermission RecoveryKind = "GRANT_PERMISSION"
	RecoveryReplan          RecoveryKind = "REPLAN"
	RecoveryAbort           RecoveryKind = "ABORT"
)

// ParseRecoveryKind maps a free-form oracle string onto a RecoveryKind.
// Unrecognized values degrade to REDO_STEP, the safest retry.
func ParseRecoveryKind(s string) RecoveryKind {
	switch RecoveryKind(strings.ToUpper(strings.TrimSpace(s))) {
	case RecoveryNone:
		return RecoveryNone
	case RecoveryRedoStep:
		return RecoveryRedoStep
	case RecoveryHandleInterrupt:
		return RecoveryHandleInterrupt
	case RecoveryRequireAuth:
		return RecoveryRequireAuth
	case RecoveryGrantPermission:
		return RecoveryGrantPermission
	case RecoveryReplan:
		return RecoveryReplan
	case RecoveryAbort:
		return RecoveryAbort
	default:
		return RecoveryRedoStep
	}
}

// Gate types reported alongside REQUIRE_AUTH / GRANT_PERMISSION verdicts.
const (
	GateNone       = "NONE"
	GateLogin      = "LOGIN"
	GatePermission = "PERMISSION"
)

// EvaluationVerdict is the oracle's structured judgement of a step
// outcome. Consumed read-only by the state machine.
type EvaluationVerdict struct {
	OK          bool         `json:"ok"`
	Reason      string       `json:"reason,omitempty"`
	Recovery    RecoveryKind `json:"recovery"`
	Suggestions []string     `json:"suggestions,omitempty"`
	GateType    string       `json:"gate_type,omitempty"`
	Confidence  float64      `json:"confidence,omitempty"`
}

// InterruptKind classifies a detected blocking overlay.
type InterruptKind string

// Overlay classes. InterruptNone means nothing blocking was found.
const (
	InterruptAd         InterruptKind = "ad"
	InterruptLogin      InterruptKind = "login"
	InterruptPermission InterruptKind = "permission"
	InterruptUnknown    InterruptKind = "unknown"
	InterruptNone       InterruptKind = "none"
)

// Interruption is one detection pass over a snapshot. Recomputed fresh on
// every call; overlays can appear or vanish between any two device
// actions, so results are never cached.
type Interruption struct {
	Present    bool          `json:"present"`
	Kind       InterruptKind `json:"kind"`
	Coverage   float64       `json:"coverage"` // largest candidate's screen fraction
	Candidates []UINode      `json:"candidates,omitempty"`
}

// InterruptDecision is the oracle's (or a deterministic shortcut's) call
// on how to treat a detected interruption.
type InterruptDecision string

// Interruption decisions, wire spelling.
const (
	DecisionPassThrough InterruptDecision = "PASS_THROUGH"
	DecisionDismiss     InterruptDecision = "DISMISS"
	DecisionHandle      InterruptDecision = "HANDLE"
)

// ParseInterruptDecision maps a free-form string onto a decision.
// Unrecognized values degrade to PASS_THROUGH: acting on a garbled
// instruction is worse than leaving the overlay for the next cycle.
func ParseInterruptDecision(s string) InterruptDecision {
	switch InterruptDecision(strings.ToUpper(strings.TrimSpace(s))) {
	case DecisionDismiss:
		return DecisionDismiss
	case DecisionHandle:
		return DecisionHandle
	default:
		return DecisionPassThrough
	}
}
