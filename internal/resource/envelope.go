// Package resource provides typed access to the API's REST endpoints.
//
// Every endpoint answers with the same envelope:
//
//	{"success": true, "message": "...", "data": ...}
//
// The helpers here unwrap it so callers see the data or an error.
package resource

import (
	"errors"
	"fmt"

	"github.com/renewdesk/renewctl/internal/gateway"
)

// ErrUnsuccessful is returned when the envelope reports success=false.
var ErrUnsuccessful = errors.New("request unsuccessful")

// Envelope is the standard response wrapper.
type Envelope[T any] struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    T                   `json:"data"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// EnvelopeError carries the message of an unsuccessful envelope.
type EnvelopeError struct {
	Message string
	Errors  map[string][]string
}

func (e *EnvelopeError) Error() string {
	if e.Message == "" {
		return ErrUnsuccessful.Error()
	}
	return e.Message
}

func (e *EnvelopeError) Is(target error) bool {
	return target == ErrUnsuccessful
}

// Unwrap returns the data, or an *EnvelopeError when success is false.
func (e *Envelope[T]) Unwrap() (T, error) {
	if !e.Success {
		var zero T
		return zero, &EnvelopeError{Message: e.Message, Errors: e.Errors}
	}
	return e.Data, nil
}

// Decode parses resp as an Envelope and unwraps it.
func Decode[T any](resp *gateway.Response) (T, error) {
	env, err := DecodeEnvelope[T](resp)
	if err != nil {
		var zero T
		return zero, err
	}
	return env.Unwrap()
}

// DecodeEnvelope parses resp as an Envelope without unwrapping it.
func DecodeEnvelope[T any](resp *gateway.Response) (*Envelope[T], error) {
	var env Envelope[T]
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrUnsuccessful)
	}
	if err := resp.Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}
