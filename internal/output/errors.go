package output

import (
	"errors"
	"fmt"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Coded is implemented by domain errors that know their output code.
// credential, token and api errors implement it so this package does not
// need to import them.
type Coded interface {
	error
	ErrorCode() string
}

// Hinted is implemented by domain errors that carry a remediation hint.
type Hinted interface {
	ErrorHint() string
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrConfig(msg, hint string) *Error {
	return &Error{Code: CodeConfig, Message: msg, Hint: hint}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "Network error",
		Hint:      cause.Error(),
		Retryable: true,
		Cause:     cause,
	}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
	}
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var coded Coded
	if errors.As(err, &coded) {
		out := &Error{
			Code:    coded.ErrorCode(),
			Message: coded.Error(),
			Cause:   err,
		}
		var hinted Hinted
		if errors.As(err, &hinted) {
			out.Hint = hinted.ErrorHint()
		}
		var status interface{ HTTPStatusCode() int }
		if errors.As(err, &status) {
			out.HTTPStatus = status.HTTPStatusCode()
		}
		return out
	}

	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}
