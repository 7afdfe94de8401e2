package remote

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the platform has no entity for the requested id.
var ErrNotFound = errors.New("not found")

// TransportError wraps a network failure, a non-2xx HTTP status or a body
// that could not be decoded as the platform envelope.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transport: http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PlatformRejection is a well-formed response that reports a business failure.
// Message carries the platform's human-readable reason when it supplied one.
type PlatformRejection struct {
	Op      string
	Code    int
	Message string
}

func (e *PlatformRejection) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rejected by platform (code %d)", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// MalformedResponse reports a payload whose shape did not match expectations.
type MalformedResponse struct {
	Op    string
	Field string
	Err   error
}

func (e *MalformedResponse) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed response field %q: %v", e.Op, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: malformed response: missing %q", e.Op, e.Field)
}

func (e *MalformedResponse) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// Reason extracts the platform-supplied message from a PlatformRejection
// anywhere in err's chain. It returns "" when there is none.
func Reason(err error) string {
	var rejection *PlatformRejection
	if errors.As(err, &rejection) {
		return rejection.Message
	}
	return ""
}

// IsRejection reports whether err is (or wraps) a PlatformRejection.
func IsRejection(err error) bool {
	var target *PlatformRejection
	return errors.As(err, &target)
}
