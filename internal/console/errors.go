package console

import "errors"

// Error kinds surfaced by the console. Callers classify failures with
// errors.Is; the wrapped cause carries the detail.
var (
	// ErrUnauthorized means no valid session exists (missing bearer token
	// or unresolvable panel address). No network call was attempted.
	ErrUnauthorized = errors.New("unauthorized: no valid session")

	// ErrAuthFailure means the panel rejected the ticket request.
	ErrAuthFailure = errors.New("ticket request rejected")

	// ErrTransportBlocked means the endpoint's declared scheme is
	// incompatible with the session origin and the socket was never opened.
	ErrTransportBlocked = errors.New("transport scheme mismatch")

	// ErrSocketFailure covers construction and open-time socket failures.
	ErrSocketFailure = errors.New("socket failure")

	// ErrCommandFailure means a command could not be delivered to the
	// remote target. It never changes the connection state.
	ErrCommandFailure = errors.New("command failed")

	// ErrCacheUnavailable means the cached-tail fetch failed. Non-fatal:
	// the console seeds empty and live streaming still proceeds.
	ErrCacheUnavailable = errors.New("cached log tail unavailable")
)
