// Package nebulaerrors provides structured errors for the BigQuery target.
// Every error carries a category, a message, an optional cause and a set of
// key-value details, plus the call stack at the point it was created.
//
// # Basic Usage
//
//	err := nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "bucket is required").
//		WithDetail("method", "gcs_stage")
//
//	if err := table.Create(ctx, md); err != nil {
//		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConnection, "failed to create table").
//			WithDetail("table", name)
//	}
//
// # Error Types
//
// The category drives retry decisions (see IsRetryable) and shows up as the
// prefix of Error(), so log lines can be grouped by it.
//
// Error instances are not safe for concurrent modification. Finish adding
// details before sharing an error across goroutines.
package nebulaerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid input such as a malformed record
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents a missing dataset, table or object
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents a concurrent modification, e.g. an ETag mismatch
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeRateLimit represents provider quota errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents an operation that ran past its deadline
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents transport failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents credential errors
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypePermission represents access denied errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents record encoding errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeSchema represents schema translation and evolution errors
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeJob represents a load job that failed after it was admitted
	ErrorTypeJob ErrorType = "job"
	// ErrorTypeRowRejection represents rows refused by a streaming insert
	ErrorTypeRowRejection ErrorType = "row_rejection"
)

// Error is a categorized error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single frame of the captured call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given type and captures the call stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a type and message. If err already is (or wraps) an
// *Error its stack is reused. Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable reports whether the outermost *Error in the chain has a
// transient category. Rate limit, timeout and connection errors are retryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType reports whether any *Error in the chain has the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// captureStack records up to 32 frames, skipping the innermost skip frames.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
