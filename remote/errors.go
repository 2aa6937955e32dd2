package remote

import (
	"errors"
	"fmt"
)

// ErrUnavailable is matched by every transport-level failure: connection
// refused, DNS errors, timeouts and cancelled requests.
var ErrUnavailable = errors.New("remote: endpoint unavailable")

// TransportError is returned when no response was received.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrUnavailable }

// Error is an application-level failure: a non-2xx status, an envelope with
// status false, or a body that is not an envelope.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote: %s %s: %s", e.Method, e.URL, e.Message)
	}
	return fmt.Sprintf("remote: %s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
}
