package models

import "fmt"

// ErrorKind classifies failures inside the core
type ErrorKind string

const (
	ErrRecognitionFallback   ErrorKind = "recognition_fallback"
	ErrUnresolvedReference   ErrorKind = "unresolved_reference"
	ErrWorkflowStepFailure   ErrorKind = "workflow_step_failure"
	ErrInvalidAction         ErrorKind = "invalid_action"
	ErrParseFailure          ErrorKind = "parse_failure"
	ErrTransformationFailure ErrorKind = "transformation_failure"
	ErrHandlerException      ErrorKind = "handler_exception"
	ErrUnexpected            ErrorKind = "unexpected"
)

// Error is a classified core error
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NewStepFailure reports a required workflow step that did not succeed
func NewStepFailure(workflow, step string, index int, reason string) *Error {
	return &Error{
		Kind:    ErrWorkflowStepFailure,
		Message: fmt.Sprintf("step %q of workflow %q failed: %s", step, workflow, reason),
		Details: map[string]any{"workflow": workflow, "step": step, "index": index},
	}
}

// NewInvalidAction reports a generated action that was filtered out
func NewInvalidAction(tool, reason string) *Error {
	return &Error{
		Kind:    ErrInvalidAction,
		Message: fmt.Sprintf("action %q rejected: %s", tool, reason),
		Details: map[string]any{"tool": tool},
	}
}

// NewHandlerException wraps a failure raised inside an intent handler
func NewHandlerException(intent IntentType, err error) *Error {
	return &Error{
		Kind:    ErrHandlerException,
		Message: fmt.Sprintf("handler for %s failed", intent),
		Details: map[string]any{"intent": string(intent)},
		Err:     err,
	}
}

// IsKind checks whether err is a core Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
