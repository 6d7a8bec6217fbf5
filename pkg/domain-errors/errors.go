// Package domainerrors defines the error taxonomy shared by services and
// transport. Services attach a Code so handlers can map failures to HTTP
// statuses without inspecting error strings.
//
// Codes express the caller-facing class of a failure:
//   - CodeInvalidInput / CodeBadRequest: malformed input or broken business
//     rule; returned immediately, never retried.
//   - CodeNotFound: unknown stage/device/reading.
//   - CodeConflict: phase guard or concurrent-mutation conflict; retry only
//     the affected item.
//   - CodeUnavailable: a dependency (cache, broker) is down; the underlying
//     write still succeeds where the design says best-effort.
//   - CodeInternal: everything else.
//
// Infrastructure facts (row missing, key already used) use pkg/platform/sentinel;
// services translate those into domain errors at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnavailable        Code = "unavailable"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal"
)

// Error is a code-carrying error. Wrapping preserves the cause chain for
// errors.Is/As while the outermost code decides the transport mapping.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// Is reports whether err carries the given code. Alias of HasCode kept for
// call-site readability next to errors.Is.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// HasCode walks the error chain looking for a domain error with the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf returns the code of the outermost domain error, or CodeInternal when
// err is not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
