package bitable

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every component that talks to, or answers for,
// the remote table service. Callers dispatch with errors.Is.
var (
	// ErrRemoteUnavailable covers network and timeout failures reaching the
	// remote service. Recoverable by the next scheduled reload.
	ErrRemoteUnavailable = errors.New("remote table service unavailable")

	// ErrNotFound means a resolved table, record or tenant does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownTable means a table name did not resolve against the cached
	// schema for the tenant.
	ErrUnknownTable = errors.New("unknown table")

	// ErrForbidden means the tenant exists but the requested farmer id is
	// outside its authorized set.
	ErrForbidden = errors.New("farmer not authorized for tenant")

	// ErrMisconfigured means a tenant row is missing required credentials.
	ErrMisconfigured = errors.New("tenant credentials missing")
)

// RemoteError is a logical rejection from the remote service: a non-success
// HTTP status or a non-zero application code in the response envelope.
type RemoteError struct {
	StatusCode int    // HTTP status, 0 when the transport succeeded
	Code       int    // application code from the response envelope
	Message    string // remote message, recorded verbatim
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote rejected request: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote rejected request: code %d: %s", e.Code, e.Message)
}

// IsRemoteRejected reports whether err carries a logical rejection from the
// remote service, as opposed to a transport failure.
func IsRemoteRejected(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
