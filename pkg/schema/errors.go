package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeExecution               = "EXECUTION_ERROR"
	ErrCodeTimeout                 = "TIMEOUT_ERROR"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeConflict                = "CONFLICT"
	ErrCodeInvalidTransition       = "INVALID_TRANSITION"
	ErrCodeCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	ErrCodeCollaboratorTimeout     = "COLLABORATOR_TIMEOUT"
	ErrCodeIterationLimit          = "ITERATION_LIMIT_EXCEEDED"
	ErrCodeMalformedDelta          = "MALFORMED_DELTA"
	ErrCodeGateDenied              = "GATE_DENIED"
	ErrCodeStepFailed              = "STEP_FAILED"
	ErrCodeRetryExhausted          = "RETRY_EXHAUSTED"
	ErrCodeStore                   = "STORE_ERROR"
)

// ResponderError is the structured error type for all engine operations.
type ResponderError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ResponderError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ResponderError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error represents a transient collaborator
// condition that a step may retry. Contract violations and structural
// failures are never retryable.
func (e *ResponderError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeCollaboratorUnavailable, ErrCodeCollaboratorTimeout, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// NewError creates a new ResponderError.
func NewError(code, message string) *ResponderError {
	return &ResponderError{Code: code, Message: message}
}

// NewErrorf creates a new ResponderError with a formatted message.
func NewErrorf(code, format string, args ...any) *ResponderError {
	return &ResponderError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *ResponderError) WithStep(step string) *ResponderError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *ResponderError) WithCause(err error) *ResponderError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ResponderError) WithDetails(details map[string]any) *ResponderError {
	e.Details = details
	return e
}
