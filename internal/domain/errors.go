package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies command pipeline failures
type ErrorKind string

const (
	KindCompile          ErrorKind = "compile_failure"
	KindValidation       ErrorKind = "validation_failure"
	KindResolution       ErrorKind = "resolution_failure"
	KindExecution        ErrorKind = "execution_failure"
	KindNotFound         ErrorKind = "not_found"
	KindPermission       ErrorKind = "permission_denied"
	KindRateLimited      ErrorKind = "rate_limit_exceeded"
	KindTimeout          ErrorKind = "timeout"
	KindConfirmationNeed ErrorKind = "confirmation_required"
)

// CommandError is a user-facing failure with actionable suggestions
type CommandError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Suggestions []string  `json:"suggestions,omitempty"`
	// Index is the offending command's position, or -1 when not tied to one.
	Index int   `json:"index"`
	Cause error `json:"-"`
}

func (e *CommandError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s (command %d): %s", e.Kind, e.Index, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the cause error
func (e *CommandError) Unwrap() error {
	return e.Cause
}

// NewCommandError creates a command error not tied to a command index
func NewCommandError(kind ErrorKind, message string, cause error, suggestions ...string) *CommandError {
	return &CommandError{Kind: kind, Message: message, Cause: cause, Index: -1, Suggestions: suggestions}
}

// AtIndex returns a copy of the error tied to a command index
func (e *CommandError) AtIndex(i int) *CommandError {
	cp := *e
	cp.Index = i
	return &cp
}

// KindOf returns the kind of a command error, or "" for other errors
func KindOf(err error) ErrorKind {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsKind reports whether err is a command error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func ErrValidation(message string) *CommandError {
	return NewCommandError(KindValidation, message, nil)
}

func ErrResolution(entity EntityType, name string) *CommandError {
	return NewCommandError(KindResolution,
		fmt.Sprintf("no %s named %q was found", entity, name), nil,
		fmt.Sprintf("create the %s first, or check the spelling", entity))
}

func ErrNotFound(entity EntityType) *CommandError {
	return NewCommandError(KindNotFound,
		fmt.Sprintf("no matching %s records were found", entity), nil,
		"narrow the description, for example by name or date")
}

func ErrPermission(entity EntityType) *CommandError {
	return NewCommandError(KindPermission,
		fmt.Sprintf("you do not have permission to modify this %s", entity), nil)
}

func ErrExecution(message string, cause error) *CommandError {
	return NewCommandError(KindExecution, message, cause, "try again in a moment")
}
