package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: session_crashed, oracle_response, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Parse errors: degrade, never abort a whole scan
	ErrSnapshotParse = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "snapshot_parse",
		Message:  "could not parse UI snapshot",
	}
	ErrOracleResponse = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "oracle_response",
		Message:  "could not parse oracle response",
	}

	// Session errors: eligible for one transparent restart
	ErrSessionCrashed = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_crashed",
		Message:  "automation session crashed",
	}
	ErrSessionUnreachable = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_unreachable",
		Message:  "could not reach automation server",
	}
	ErrDeviceDisconnected = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "device_disconnected",
		Message:  "device connection lost",
	}

	// Action errors: governed by retry budgets, surfaced as failure results
	ErrActionFailed = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "action_failed",
		Message:  "device action failed",
	}
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAction,
		Code:     "element_not_found",
		Message:  "element not found",
	}

	// Oracle transport errors
	ErrOracleUnreachable = &ExecutionError{
		Category: ErrCategoryOracle,
		Code:     "oracle_unreachable",
		Message:  "could not reach decision oracle",
	}

	// Policy errors
	ErrStepAborted = &ExecutionError{
		Category: ErrCategoryPolicy,
		Code:     "step_aborted",
		Message:  "step aborted by oracle verdict",
	}
	ErrCycleBudget = &ExecutionError{
		Category: ErrCategoryPolicy,
		Code:     "cycle_budget_exhausted",
		Message:  "recovery cycle budget exhausted",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf extracts the ErrorCategory from anywhere in an error chain.
// Plain errors report ErrCategoryNone.
func CategoryOf(err error) ErrorCategory {
	var exec *ExecutionError
	if errors.As(err, &exec) {
		return exec.Category
	}
	return ErrCategoryNone
}

// IsSessionError reports whether the error chain contains a session-class
// failure, the trigger for a one-shot transparent session restart.
func IsSessionError(err error) bool {
	return CategoryOf(err) == ErrCategorySession
}
