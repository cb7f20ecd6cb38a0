// Package etlerrors provides the error taxonomy of the bqloader pipeline.
//
// # Overview
//
// Every component that calls into an external collaborator (the source API,
// BigQuery, Cloud Storage, Secret Manager) converts the collaborator's error
// into one of four domain kinds before returning it:
//
//   - ErrorTypeExtract: the source API could not be consumed
//   - ErrorTypeTransform: the payload could not be shaped into a table
//   - ErrorTypeLoad: provisioning or the load job failed
//   - ErrorTypeConfig: required settings are missing or unresolvable
//
// The orchestrator only ever inspects these kinds. The original cause is kept
// as the wrapped error so errors.Is and errors.As keep working.
//
// # Basic Usage
//
//	resp, err := client.Do(req)
//	if err != nil {
//	    return etlerrors.Extract(err, "request failed").
//	        WithDetail("url", req.URL.String())
//	}
//
// Error instances are not safe for concurrent modification. Add details
// before handing the error to another goroutine.
package etlerrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeExtract marks failures while consuming the source API
	ErrorTypeExtract ErrorType = "extract"
	// ErrorTypeTransform marks failures while building the table
	ErrorTypeTransform ErrorType = "transform"
	// ErrorTypeLoad marks provisioning and load job failures
	ErrorTypeLoad ErrorType = "load"
	// ErrorTypeConfig marks missing or invalid configuration
	ErrorTypeConfig ErrorType = "config"

	// ErrorTypeInternal represents internal errors that escaped classification
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid arguments
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents a missing remote resource
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents a remote resource that already exists
	ErrorTypeConflict ErrorType = "conflict"
)

// Error represents a structured error with context.
//
// Fields:
//   - Type: the domain kind, used by the orchestrator to report the stage
//   - Message: human-readable description
//   - Cause: the collaborator error being translated
//   - Details: key-value context (url, table, attempt, ...)
//   - Stack: call stack at the point of creation
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
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

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. It can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns the detail stored under key, if any.
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. If err is already a
// structured Error its stack is preserved. Returns nil if err is nil.
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

// Extract creates an ExtractFailure. cause may be nil.
func Extract(cause error, message string) *Error {
	return build(ErrorTypeExtract, cause, message)
}

// Transform creates a TransformFailure. cause may be nil.
func Transform(cause error, message string) *Error {
	return build(ErrorTypeTransform, cause, message)
}

// Load creates a LoadFailure. cause may be nil.
func Load(cause error, message string) *Error {
	return build(ErrorTypeLoad, cause, message)
}

// Config creates a ConfigurationFailure. cause may be nil.
func Config(cause error, message string) *Error {
	return build(ErrorTypeConfig, cause, message)
}

// MissingKeys creates a ConfigurationFailure naming every missing key.
func MissingKeys(keys []string) *Error {
	return build(ErrorTypeConfig, nil, "missing required settings: "+strings.Join(keys, ", ")).
		WithDetail("missing", keys)
}

func build(errType ErrorType, cause error, message string) *Error {
	if cause == nil {
		return &Error{Type: errType, Message: message, Stack: captureStack(3)}
	}
	var existingErr *Error
	stack := captureStack(3)
	if errors.As(cause, &existingErr) && len(existingErr.Stack) > 0 {
		stack = existingErr.Stack
	}
	return &Error{Type: errType, Message: message, Cause: cause, Stack: stack}
}

// IsType checks if the outermost structured error in the chain has the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsDomain reports whether err is one of the four pipeline failure kinds.
func IsDomain(err error) bool {
	_, ok := StageOf(err)
	return ok
}

// StageOf returns the domain kind of err. The second result is false when
// err is not an extract, transform, load or config failure.
func StageOf(err error) (ErrorType, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	switch e.Type {
	case ErrorTypeExtract, ErrorTypeTransform, ErrorTypeLoad, ErrorTypeConfig:
		return e.Type, true
	default:
		return "", false
	}
}

// captureStack captures the current call stack, skipping the given number of
// frames from the top.
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
