package output

import (
	"errors"
	"fmt"

	"github.com/renewdesk/renewctl/internal/apierr"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Fields     map[string][]string
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

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

func ErrNotFound(resource, identifier string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

func ErrAuth(msg string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: msg,
		Hint:    "Run: renewctl auth login",
	}
}

// AsError converts any error to an *Error, translating gateway and auth
// failures into their envelope codes.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var ae *apierr.AuthError
	if errors.As(err, &ae) {
		out := &Error{
			Code:       codeForAuth(ae.Code),
			Message:    ae.Message,
			HTTPStatus: ae.Status,
			Fields:     ae.Details,
			Cause:      err,
		}
		if out.Code == CodeAuth {
			out.Hint = "Run: renewctl auth login"
		}
		return out
	}

	if ee, ok := apierr.As(err); ok {
		out := &Error{
			Code:       codeForKind(ee.Kind),
			Message:    ee.ServerMessage(),
			HTTPStatus: ee.Status,
			Retryable:  ee.Retryable(),
			Fields:     ee.FieldErrors(),
			Cause:      err,
		}
		switch out.Code {
		case CodeAuth:
			out.Hint = "Session expired. Run: renewctl auth login"
		case CodeValidation:
			out.Hint = ee.FirstFieldError()
		case CodeNetwork:
			if ee.Attempts > 1 {
				out.Hint = fmt.Sprintf("gave up after %d attempts", ee.Attempts)
			}
		}
		return out
	}

	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}
