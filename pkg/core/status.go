package core

import (
	"encoding/json"
	"fmt"
)

// StepStatus represents the execution status of a step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Step goal not reached within the cycle budget
	StatusErrored                   // Unexpected error (session, transport, crash)
	StatusSkipped                   // Not run because an earlier step failed
	StatusWarned                    // Optional step failed (non-blocking)
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	case StatusWarned:
		return "warned"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the status as its string form so results and
// reports stay readable.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the string form produced by MarshalJSON.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, st := range []StepStatus{StatusPending, StatusRunning, StatusPassed, StatusFailed, StatusErrored, StatusSkipped, StatusWarned} {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown step status %q", name)
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped, StatusWarned:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status indicates success (passed or warned)
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed || s == StatusWarned
}

// ErrorCategory classifies a failure for retry decisions and reporting
type ErrorCategory int

const (
	ErrCategoryNone    ErrorCategory = iota // No error
	ErrCategoryParse                        // Malformed snapshot bounds or oracle payload
	ErrCategorySession                      // Automation session crashed or unreachable
	ErrCategoryAction                       // Device rejected or failed a primitive action
	ErrCategoryOracle                       // Oracle transport failure
	ErrCategoryPolicy                       // Abort verdict or exhausted budget
	ErrCategoryTimeout                      // Operation timed out
	ErrCategoryConfig                       // Invalid configuration, missing required field
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryParse:
		return "parse"
	case ErrCategorySession:
		return "session"
	case ErrCategoryAction:
		return "action"
	case ErrCategoryOracle:
		return "oracle"
	case ErrCategoryPolicy:
		return "policy"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the category as its string form.
func (c ErrorCategory) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}
