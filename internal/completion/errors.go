package completion

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind string

const (
	KindUnauthorized      Kind = "Unauthorized"
	KindNetworkFailure    Kind = "NetworkFailure"
	KindServerError       Kind = "ServerError"
	KindMalformedResponse Kind = "MalformedResponse"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNetworkFailure    = errors.New("network failure")
	ErrServerError       = errors.New("server error")
	ErrMalformedResponse = errors.New("malformed response")
)

// Error is returned by every Client method on failure. Diagnostic is meant
// for the user; it never contains the credential.
type Error struct {
	Kind       Kind
	Diagnostic string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Diagnostic == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Diagnostic)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindUnauthorized:
		return target == ErrUnauthorized
	case KindNetworkFailure:
		return target == ErrNetworkFailure
	case KindServerError:
		return target == ErrServerError
	case KindMalformedResponse:
		return target == ErrMalformedResponse
	}
	return false
}

func newError(kind Kind, status int, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:       kind,
		Diagnostic: fmt.Sprintf(format, args...),
		StatusCode: status,
		Err:        cause,
	}
}
