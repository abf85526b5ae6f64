// Package preview implements the dual-compilation orchestrator: it resolves
// the target node, ingests request-supplied facts, and compiles the node's
// catalog against both its baseline environment and a caller-supplied
// preview environment, with per-pass log isolation.
package preview

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an orchestration error for propagation policy.
type ErrorClass string

const (
	// ErrorClassArgument indicates a malformed or missing required option,
	// including a node that cannot be found. Never retried.
	ErrorClassArgument ErrorClass = "argument"

	// ErrorClassConsistency indicates submitted facts belong to a
	// different node identity than the compile target.
	ErrorClassConsistency ErrorClass = "consistency"

	// ErrorClassPermission indicates a remote request attempted a
	// local-only option.
	ErrorClassPermission ErrorClass = "permission"

	// ErrorClassCompilation indicates node lookup or catalog compilation
	// failed; wraps the collaborator's diagnostic.
	ErrorClassCompilation ErrorClass = "compilation"
)

// PreviewError is a classified orchestration error with compile context.
// nolint:revive // PreviewError is intentionally named to distinguish from standard errors
type PreviewError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Node is the node being compiled, if known.
	Node string `json:"node,omitempty"`

	// BaselineEnv is the baseline environment, if known.
	BaselineEnv string `json:"baseline_env,omitempty"`

	// PreviewEnv is the preview environment, if known.
	PreviewEnv string `json:"preview_env,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *PreviewError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Node != "" {
		msg += fmt.Sprintf(" (node=%s", e.Node)
		if e.BaselineEnv != "" || e.PreviewEnv != "" {
			msg += fmt.Sprintf(", environments=%s->%s", e.BaselineEnv, e.PreviewEnv)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PreviewError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *PreviewError) Is(target error) bool {
	t, ok := target.(*PreviewError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewArgumentError creates an argument-class error.
func NewArgumentError(message string, err error) *PreviewError {
	return &PreviewError{Class: ErrorClassArgument, Message: message, Err: err}
}

// NewConsistencyError creates a consistency-class error.
func NewConsistencyError(message string, err error) *PreviewError {
	return &PreviewError{Class: ErrorClassConsistency, Message: message, Err: err}
}

// NewPermissionError creates a permission-class error.
func NewPermissionError(message string, err error) *PreviewError {
	return &PreviewError{Class: ErrorClassPermission, Message: message, Err: err}
}

// NewCompilationError creates a compilation-class error.
func NewCompilationError(message string, err error) *PreviewError {
	return &PreviewError{Class: ErrorClassCompilation, Message: message, Err: err}
}

// WithNode adds the node name to the error context.
func (e *PreviewError) WithNode(node string) *PreviewError {
	e.Node = node
	return e
}

// WithEnvironments adds the environment pair to the error context.
func (e *PreviewError) WithEnvironments(baseline, preview string) *PreviewError {
	e.BaselineEnv = baseline
	e.PreviewEnv = preview
	return e
}

// IsArgument returns true if the error is argument-class.
func IsArgument(err error) bool { return hasClass(err, ErrorClassArgument) }

// IsConsistency returns true if the error is consistency-class.
func IsConsistency(err error) bool { return hasClass(err, ErrorClassConsistency) }

// IsPermission returns true if the error is permission-class.
func IsPermission(err error) bool { return hasClass(err, ErrorClassPermission) }

// IsCompilation returns true if the error is compilation-class.
func IsCompilation(err error) bool { return hasClass(err, ErrorClassCompilation) }

func hasClass(err error, class ErrorClass) bool {
	var e *PreviewError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}
