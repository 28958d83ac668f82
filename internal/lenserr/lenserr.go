// Package lenserr provides the typed failures raised by the introspection
// pipeline. Every failure carries a code so a view can turn it into a one-line
// "data not available" notice for its own section only.
package lenserr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies a failure class.
type Code string

const (
	// CodeDimensionMismatch marks vectors of unequal length passed where equal
	// length is required.
	CodeDimensionMismatch Code = "DIMENSION_MISMATCH"

	// CodeDegenerateInput marks singular covariance, zero-norm vectors or
	// empty vector sets. Always recovered locally with a fallback value.
	CodeDegenerateInput Code = "DEGENERATE_INPUT"

	// CodeMalformedTrace marks a present trace field whose shape is invalid.
	CodeMalformedTrace Code = "MALFORMED_TRACE"

	// CodeUnavailable marks a section whose required fields are absent.
	CodeUnavailable Code = "SECTION_UNAVAILABLE"

	// CodeInvalidSelection marks an out of range head or token index.
	CodeInvalidSelection Code = "INVALID_SELECTION"

	// CodeInternal marks a recovered panic inside a section builder.
	CodeInternal Code = "INTERNAL"
)

// Sentinels for errors.Is checks. Matching is by code.
var (
	ErrDimensionMismatch = &Error{Code: CodeDimensionMismatch}
	ErrDegenerateInput   = &Error{Code: CodeDegenerateInput}
	ErrMalformedTrace    = &Error{Code: CodeMalformedTrace}
	ErrUnavailable       = &Error{Code: CodeUnavailable}
	ErrInvalidSelection  = &Error{Code: CodeInvalidSelection}
	ErrInternal          = &Error{Code: CodeInternal}
)

// Error is a pipeline failure with optional section and context.
type Error struct {
	Code    Code
	Section string
	Message string
	Context map[string]string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Section != "" {
		b.WriteString(" [")
		b.WriteString(e.Section)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithSection tags the error with the section that discovered it.
func (e *Error) WithSection(section string) *Error {
	e.Section = section
	return e
}

// WithContext adds a key/value detail and returns e for chaining.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// ContextString renders the context map as sorted k="v" pairs.
func (e *Error) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, e.Context[k]))
	}
	return strings.Join(parts, ", ")
}

// DimensionMismatch reports two lengths that should have been equal.
func DimensionMismatch(a, b int) *Error {
	return Newf(CodeDimensionMismatch, "length %d != %d", a, b).
		WithContext("left", fmt.Sprint(a)).
		WithContext("right", fmt.Sprint(b))
}

// Degenerate reports input with no usable variance or magnitude.
func Degenerate(format string, args ...interface{}) *Error {
	return Newf(CodeDegenerateInput, format, args...)
}

// Malformed reports a trace field that violates its shape contract.
func Malformed(format string, args ...interface{}) *Error {
	return Newf(CodeMalformedTrace, format, args...)
}

// Unavailable reports a section whose inputs are absent from the trace.
func Unavailable(format string, args ...interface{}) *Error {
	return Newf(CodeUnavailable, format, args...)
}

// InvalidSelection reports an index outside [0, n).
func InvalidSelection(what string, idx, n int) *Error {
	return Newf(CodeInvalidSelection, "%s index %d out of range [0, %d)", what, idx, n)
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode checks whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
