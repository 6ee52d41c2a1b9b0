// Package device structured error types for host orchestration code
package device

import (
	"errors"
	"fmt"
)

// ErrorType represents categories of device errors
type ErrorType int

const (
	// Memory errors
	ErrTypeMemory ErrorType = iota
	// Invalid argument errors
	ErrTypeInvalidArg
	// Execution errors
	ErrTypeExecution
	// Numerical errors
	ErrTypeNumerical
)

// Error is a structured device error carrying the failing operation and
// an error category, so callers can react to the class of failure without
// parsing messages.
type Error struct {
	Type    ErrorType
	Op      string // Operation that failed
	Message string // Human-readable message
	Err     error  // Underlying error if any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("device %s error in %s: %s", e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeMemory:
		return "Memory"
	case ErrTypeInvalidArg:
		return "InvalidArgument"
	case ErrTypeExecution:
		return "Execution"
	case ErrTypeNumerical:
		return "Numerical"
	default:
		return "Unknown"
	}
}

// NewMemoryError creates a memory-related error
func NewMemoryError(op, message string, err error) error {
	return &Error{Type: ErrTypeMemory, Op: op, Message: message, Err: err}
}

// NewInvalidArgError creates an invalid argument error
func NewInvalidArgError(op, message string) error {
	return &Error{Type: ErrTypeInvalidArg, Op: op, Message: message}
}

// NewExecutionError creates an execution error
func NewExecutionError(op, message string, err error) error {
	return &Error{Type: ErrTypeExecution, Op: op, Message: message, Err: err}
}

// NewNumericalError creates a numerical error
func NewNumericalError(op, message string) error {
	return &Error{Type: ErrTypeNumerical, Op: op, Message: message}
}

// Common pre-defined errors

var (
	// ErrInvalidSize indicates a non-positive allocation request
	ErrInvalidSize = NewInvalidArgError("Malloc", "element count must be positive")

	// ErrNullBuffer indicates use of an unallocated buffer
	ErrNullBuffer = NewInvalidArgError("Memory", "null buffer")

	// ErrDoubleFree indicates a buffer was freed twice
	ErrDoubleFree = NewMemoryError("Free", "double free detected", nil)
)

// IsMemoryError checks if an error is a memory error
func IsMemoryError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrTypeMemory
	}
	return false
}

// IsInvalidArgError checks if an error is an invalid argument error
func IsInvalidArgError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrTypeInvalidArg
	}
	return false
}

// IsNumericalError checks if an error is a numerical error
func IsNumericalError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrTypeNumerical
	}
	return false
}
