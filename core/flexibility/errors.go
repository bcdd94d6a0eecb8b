package flexibility

import "fmt"

// ValidationError rejects a request before it is persisted. The caller
// must fix the request and resubmit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func validationErrorf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// EvaluationError wraps a collaborator failure during evaluation. It is
// caught internally and degrades the request to REJECTED.
type EvaluationError struct {
	Stage string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed at %s: %v", e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// ExecutionError wraps a failure while applying or settling a request
// mid-flight. The request is marked CANCELLED; partially applied
// effects are not rolled back.
type ExecutionError struct {
	RequestID string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of request %s failed: %v", e.RequestID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
