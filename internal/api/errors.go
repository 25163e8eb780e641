package api

import (
	"errors"
	"fmt"
)

// ErrNetwork marks transport-level failures (DNS, connection refused,
// timeouts) so callers can tell connectivity problems from application
// errors. Sync treats these as transient.
var ErrNetwork = errors.New("network unreachable")

// ErrSessionExpired is returned when a request still gets 401 after a token
// refresh, or when the refresh itself fails. Callers are expected to log the
// user out.
var ErrSessionExpired = errors.New("session expired, please login again")

// Error is a non-2xx application response from the backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}
