package console

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

// State is the connection lifecycle phase. Exactly one per console
// session, owned by the Manager; transitions are the only legal mutation
// path.
type State string

const (
	StateIdle           State = "Idle"
	StateFetchingTicket State = "FetchingTicket"
	StateGuardBlocked   State = "GuardBlocked"
	StateOpening        State = "Opening"
	StateStreaming      State = "Streaming"
	StateErrored        State = "Errored"
	StateClosed         State = "Closed"
)

// TicketScope is the target kind a connection ticket is bound to.
type TicketScope string

const (
	ScopeService TicketScope = "service"
	ScopeNode    TicketScope = "node"
)

// Ticket is a short-lived, single-use credential for one push-stream
// connection. It is requested at most once per connect attempt and
// consumed by the transport handshake; a stale ticket fails the handshake
// rather than being retried transparently.
type Ticket struct {
	Value string
	Scope TicketScope
}

// TicketSource exchanges the operator's session for a connection ticket.
type TicketSource interface {
	RequestTicket(ctx context.Context, scope TicketScope) (Ticket, error)
}

// EndpointSource resolves the current push-stream endpoint from the
// session. Looked up fresh on every connect attempt.
type EndpointSource interface {
	SessionEndpoint(ctx context.Context) (Endpoint, error)
}

// ManagerConfig wires a Manager. Tickets, Endpoints, and Buffer are
// required.
type ManagerConfig struct {
	Tickets   TicketSource
	Endpoints EndpointSource
	Buffer    *Buffer

	// Origin is the scheme of the panel URL the operator's session points
	// at; the guard compares endpoint declarations against it.
	Origin Scheme

	Scope  TicketScope
	Target string

	// SocketPath is the websocket path on the endpoint. Defaults to
	// DefaultSocketPath.
	SocketPath string

	// DialTimeout bounds the websocket handshake. Defaults to 30s; the
	// original console would hang indefinitely here, which we treat as an
	// oversight rather than a contract.
	DialTimeout time.Duration

	// OnState is invoked on every transition, with manager internals
	// held: it must not call back into the Manager.
	OnState func(State)

	// OnLine is invoked after each inbound line is appended, with manager
	// internals held: it must not call back into the Manager.
	OnLine func(string)

	Log logr.Logger
}

// DefaultSocketPath is the console stream path on session endpoints.
const DefaultSocketPath = "/ws/console"

const defaultDialTimeout = 30 * time.Second

// Manager owns the push-transport connection lifecycle: ticket
// acquisition, guard check, socket open, streaming, teardown. The socket
// handle is never exposed; every access goes through the state machine so
// no caller can hold a stale reference after Closed.
//
// GuardBlocked and Errored are terminal for the attempt — the Manager
// never reconnects on its own. A fresh Connect call starts a new attempt;
// Connect while an attempt is in flight or streaming is a no-op.
type Manager struct {
	tickets     TicketSource
	endpoints   EndpointSource
	buf         *Buffer
	origin      Scheme
	scope       TicketScope
	target      string
	socketPath  string
	dialTimeout time.Duration
	onState     func(State)
	onLine      func(string)
	log         logr.Logger

	mu      sync.Mutex
	state   State
	gen     int // attempt generation; bumped on each Connect and on Dispose
	conn    *websocket.Conn
	lastErr error
}

// NewManager creates a Manager in StateIdle.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Manager{
		tickets:     cfg.Tickets,
		endpoints:   cfg.Endpoints,
		buf:         cfg.Buffer,
		origin:      cfg.Origin,
		scope:       cfg.Scope,
		target:      cfg.Target,
		socketPath:  cfg.SocketPath,
		dialTimeout: cfg.DialTimeout,
		onState:     cfg.OnState,
		onLine:      cfg.OnLine,
		log:         cfg.Log.WithName("connection"),
		state:       StateIdle,
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that moved the current attempt to GuardBlocked or
// Errored, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect runs one connection attempt: endpoint lookup, ticket request,
// guard check, socket open. It returns nil once streaming has started (or
// when the call was a no-op) and the terminal error otherwise. Safe to
// call from a goroutine; a Dispose racing the attempt wins, and any
// late-arriving open or frame is discarded rather than resurrecting a
// closed manager.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateGuardBlocked, StateErrored:
		// A new attempt may start. Re-arming resets to Idle first, so
		// every attempt's trace begins from the same state.
		m.setStateLocked(StateIdle)
	default:
		// In flight, streaming, or closed: idempotent no-op.
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.lastErr = nil
	// An errored stream leaves its socket open until teardown; a new
	// attempt is that teardown, or the handle would leak on replacement.
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.setStateLocked(StateFetchingTicket)
	m.mu.Unlock()

	// The endpoint is resolved fresh per attempt: session addresses
	// rotate.
	endpoint, err := m.endpoints.SessionEndpoint(ctx)
	if err != nil {
		return m.fail(gen, err)
	}

	ticket, err := m.tickets.RequestTicket(ctx, m.scope)
	if err != nil {
		return m.fail(gen, err)
	}

	// Guard check happens once ticket and endpoint are known, strictly
	// before any socket call.
	if err := Approve(endpoint, m.origin); err != nil {
		return m.block(gen, err)
	}

	if !m.advance(gen, StateOpening) {
		return nil
	}

	u := url.URL{
		Scheme: endpoint.Scheme.SocketScheme(),
		Host:   endpoint.Host,
		Path:   m.socketPath,
	}
	q := u.Query()
	q.Set("ticket", ticket.Value)
	q.Set("target", m.target)
	q.Set("kind", string(m.scope))
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: m.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return m.fail(gen, fmt.Errorf("%w: dialing %s: %v", ErrSocketFailure, u.Host, err))
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateOpening {
		// Disposed while the handshake was in flight.
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.setStateLocked(StateStreaming)
	m.mu.Unlock()

	m.log.V(1).Info("streaming", "target", m.target, "endpoint", endpoint.Host)
	go m.readLoop(gen, conn)
	return nil
}

// readLoop is subscribed once per Opening->Streaming transition and stops
// on any transition out of Streaming, so reconnect attempts never stack
// duplicate handlers.
func (m *Manager) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.streamError(gen, err)
			return
		}
		if !m.deliver(gen, string(data)) {
			return
		}
	}
}

// deliver appends one inbound frame in arrival order. Frames belonging to
// a superseded attempt, or arriving after Closed, are discarded.
func (m *Manager) deliver(gen int, line string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state != StateStreaming {
		return false
	}
	m.buf.Append(line)
	if m.onLine != nil {
		m.onLine(line)
	}
	return true
}

// streamError reports a socket error during streaming. The socket may
// still be usable per transport semantics, so it is reported but not
// force-closed; Dispose or the next connect attempt tears it down.
func (m *Manager) streamError(gen int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state != StateStreaming {
		return
	}
	m.lastErr = fmt.Errorf("%w: %v", ErrSocketFailure, err)
	m.setStateLocked(StateErrored)
}

func (m *Manager) fail(gen int, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state == StateClosed {
		return nil
	}
	m.lastErr = err
	m.setStateLocked(StateErrored)
	return err
}

func (m *Manager) block(gen int, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state == StateClosed {
		return nil
	}
	m.lastErr = err
	m.setStateLocked(StateGuardBlocked)
	return err
}

// advance moves to next if the attempt is still current.
func (m *Manager) advance(gen int, next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state == StateClosed {
		return false
	}
	m.setStateLocked(next)
	return true
}

func (m *Manager) setStateLocked(next State) {
	if m.state == next {
		return
	}
	m.log.V(1).Info("state transition", "from", string(m.state), "to", string(next))
	m.state = next
	if m.onState != nil {
		m.onState(next)
	}
}

// Dispose closes any open socket with a close frame and moves to the
// terminal Closed state. Safe to call multiple times and safe to call
// before a Connect resolves: the generation bump invalidates every
// in-flight attempt and any queued frame.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	m.gen++
	if m.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = m.conn.Close()
		m.conn = nil
	}
	m.setStateLocked(StateClosed)
}
