package pipeline

import "fmt"

// ErrorCode enumerates the taxonomy in spec §7 / the HTTP envelope codes of §4.5.
type ErrorCode string

const (
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeEngineUnreach  ErrorCode = "TEMPORAL_ERROR"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeExecution      ErrorCode = "EXECUTION_ERROR"
	CodeTransient      ErrorCode = "TRANSIENT_ERROR"
	CodePermanent      ErrorCode = "PERMANENT_ERROR"
	CodeWorkflowTimeout ErrorCode = "WORKFLOW_TIMEOUT"
)

// PipelineError is the typed error carried through activities, the engine,
// and the HTTP layer. It always knows whether a caller should expect a
// retry or a fresh submission to succeed.
type PipelineError struct {
	Code        ErrorCode
	Message     string
	Recoverable bool
	Cause       error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// Detail converts the error into the wire-level ErrorDetail carried by a
// terminal WorkflowStatus.
func (e *PipelineError) Detail() *ErrorDetail {
	return &ErrorDetail{Code: string(e.Code), Message: e.Message, Recoverable: e.Recoverable}
}

// NewValidationError builds a non-recoverable validation failure. Validation
// errors never schedule activities and never retry.
func NewValidationError(format string, args ...any) *PipelineError {
	return &PipelineError{Code: CodeValidation, Message: fmt.Sprintf(format, args...), Recoverable: false}
}

// NewTransientError wraps an infrastructure/downstream-5xx failure. The
// engine retries these per the activity's policy.
func NewTransientError(cause error, format string, args ...any) *PipelineError {
	return &PipelineError{Code: CodeTransient, Message: fmt.Sprintf(format, args...), Recoverable: true, Cause: cause}
}

// NewPermanentError wraps a downstream 4xx / auth failure. Non-retryable.
func NewPermanentError(cause error, format string, args ...any) *PipelineError {
	return &PipelineError{Code: CodePermanent, Message: fmt.Sprintf(format, args...), Recoverable: false, Cause: cause}
}

// NewWorkflowTimeoutError marks the terminal error of a workflow that
// exceeded its 2h execution timeout.
func NewWorkflowTimeoutError(format string, args ...any) *PipelineError {
	return &PipelineError{Code: CodeWorkflowTimeout, Message: fmt.Sprintf(format, args...), Recoverable: false}
}

// NewInternalError wraps an unknown/internal failure. Per spec §7 these are
// recoverable so a caller may retry.
func NewInternalError(cause error, format string, args ...any) *PipelineError {
	return &PipelineError{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Recoverable: true, Cause: cause}
}

// NewNotFoundError marks a lookup miss (workflow, batch) on the HTTP layer.
func NewNotFoundError(format string, args ...any) *PipelineError {
	return &PipelineError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...), Recoverable: false}
}

// NewEngineUnreachableError marks the orchestration engine being unreachable
// (e.g. Postgres is down). Recoverable: once the engine comes back, or an
// inline fallback is configured, the same push can succeed.
func NewEngineUnreachableError(cause error, format string, args ...any) *PipelineError {
	return &PipelineError{Code: CodeEngineUnreach, Message: fmt.Sprintf(format, args...), Recoverable: true, Cause: cause}
}

// AsPipelineError extracts a *PipelineError from err, wrapping unknown
// errors as internal/recoverable per spec §7.
func AsPipelineError(err error) *PipelineError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*PipelineError); ok {
		return pe
	}
	return NewInternalError(err, "unexpected error: %v", err)
}
