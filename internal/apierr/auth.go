package apierr

import (
	"errors"
	"fmt"
)

// Auth error codes surfaced by the login flow.
const (
	CodeNetworkError       = "NETWORK_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeServerError        = "SERVER_ERROR"
	CodePasswordMismatch   = "PASSWORD_MISMATCH"
	CodeNoRefreshToken     = "NO_REFRESH_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
)

// AuthError is the user-facing failure of an authentication step.
type AuthError struct {
	Code    string
	Status  int
	Message string
	Details map[string][]string
	Cause   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// ToAuthError maps any failure from the auth endpoints to an AuthError.
// Errors that already are AuthErrors pass through unchanged.
func ToAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}

	e, ok := As(err)
	if !ok {
		return &AuthError{
			Code:    CodeServerError,
			Status:  500,
			Message: fallback(err.Error(), "An unexpected error occurred"),
			Cause:   err,
		}
	}

	switch e.Status {
	case 0:
		return &AuthError{
			Code:    CodeNetworkError,
			Status:  401,
			Message: "Something went wrong. Please try again later.",
			Cause:   err,
		}
	case 401:
		return &AuthError{
			Code:    CodeInvalidCredentials,
			Status:  401,
			Message: "Invalid email or password",
			Cause:   err,
		}
	case 422:
		msg := ""
		if e.Details != nil {
			msg = e.Details.Message
		}
		return &AuthError{
			Code:    CodeValidationError,
			Status:  422,
			Message: fallback(msg, "Please check your input"),
			Details: e.FieldErrors(),
			Cause:   err,
		}
	default:
		msg := ""
		if e.Details != nil {
			msg = e.Details.Message
		}
		return &AuthError{
			Code:    CodeServerError,
			Status:  500,
			Message: fallback(msg, fallback(e.Message, "An unexpected error occurred")),
			Cause:   err,
		}
	}
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
