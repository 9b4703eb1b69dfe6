// Package apierr defines the closed error taxonomy shared by every core
// component and the HTTP adapter: VALIDATION_ERROR, NOT_FOUND,
// INVALID_STATE, INTERNAL_ERROR. Core packages return *Error for anything
// the API surface must classify; transient infrastructure errors are
// wrapped with %w and surfaced verbatim instead.
package apierr

import (
	"errors"
	"fmt"
)

// Code is one of the closed set of error classes.
type Code string

const (
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeInvalidState Code = "INVALID_STATE"
	CodeInternal    Code = "INTERNAL_ERROR"
)

// Error is a typed, classifiable error carrying a Code and an optional
// wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Code, enabling
// errors.Is(err, apierr.NotFound("")) style checks via a sentinel of the
// same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Validation builds a CodeValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidState builds a CodeInvalidState error.
func InvalidState(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps cause as a CodeInternal error.
func Internal(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error,
// defaulting to CodeInternal for anything else — the HTTP adapter uses
// this to decide the status code without string-sniffing.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
