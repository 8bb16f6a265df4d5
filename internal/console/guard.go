package console

import "fmt"

// Scheme is a transport-security scheme declared by a session endpoint or
// carried by the operator's panel origin.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Secure reports whether the scheme is transport-encrypted.
func (s Scheme) Secure() bool {
	return s == SchemeHTTPS
}

// SocketScheme returns the websocket scheme matching s.
func (s Scheme) SocketScheme() string {
	if s.Secure() {
		return "wss"
	}
	return "ws"
}

// Endpoint describes where the push stream for a target lives. It is
// derived from the session address lookup and refreshed on every connect
// attempt, since the session address may rotate.
type Endpoint struct {
	Host   string
	Scheme Scheme
}

// Approve decides whether a socket to endpoint may be opened from a
// session served over origin. The secure/insecure classification of both
// sides must match; a mismatch is exactly the mixed-content case browsers
// refuse, so the connection is blocked up front with an actionable error
// instead of an opaque socket-open failure.
//
// A nil return means the caller may dial. A non-nil return wraps
// ErrTransportBlocked and is a hard precondition failure, not a warning.
func Approve(endpoint Endpoint, origin Scheme) error {
	if endpoint.Scheme.Secure() == origin.Secure() {
		return nil
	}
	return fmt.Errorf("%w: endpoint %s declares %s but session origin is %s",
		ErrTransportBlocked, endpoint.Host, endpoint.Scheme, origin)
}
