package domain

import (
	"context"
	"sync"
	"time"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/protocol"
)

// Default intervals used when a session is built without explicit options.
const (
	// DefaultTTL is the number of seconds of inactivity before a session
	// expires.
	DefaultTTL = 5 * time.Second

	// DefaultHeartbeatInterval is the cadence at which heartbeat frames are
	// pushed to an attached reader.
	DefaultHeartbeatInterval = 25 * time.Second
)

// SessionState is the lifecycle state of a session. Transitions are
// monotonic: new -> open -> (interrupted | closed).
type SessionState int32

// Valid session states.
const (
	SessionNew SessionState = iota
	SessionOpen
	SessionInterrupted
	SessionClosed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionOpen:
		return "open"
	case SessionInterrupted:
		return "interrupted"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportHandle identifies the transport currently holding a session
// channel. The session keeps the handle only for identity comparison and
// heartbeat delivery; it never manages the transport's lifetime.
type TransportHandle interface {
	// SendHeartbeat writes a heartbeat frame to the client.
	SendHeartbeat() error
}

// Session is a transport independent, bidirectional message channel. It
// queues messages between the client and the bound Connection and arbitrates
// which transport may read from or write to it at any moment.
type Session struct {
	mu sync.Mutex

	id    string
	state SessionState

	ttl       time.Duration
	expiresAt time.Time // zero value means the session never expires

	heartbeatInterval time.Duration

	// reader and writer hold the transports that currently own the
	// respective channels. At most one of each at any moment.
	reader TransportHandle
	writer TransportHandle

	conn  *Connection
	queue *messageQueue

	// heartbeatRunning guards against spawning a second heartbeat task; the
	// task exits when the reader detaches and restarts on the next lock.
	heartbeatRunning bool

	logger *logging.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithTTL sets the inactivity interval after which the session expires.
func WithTTL(ttl time.Duration) SessionOption {
	return func(s *Session) { s.ttl = ttl }
}

// WithHeartbeatInterval sets the heartbeat cadence. Zero disables the
// heartbeat task.
func WithHeartbeatInterval(interval time.Duration) SessionOption {
	return func(s *Session) { s.heartbeatInterval = interval }
}

// WithSessionLogger sets the logger used for session lifecycle events.
func WithSessionLogger(logger *logging.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates a session in the new state with the given id.
func NewSession(id string, opts ...SessionOption) *Session {
	s := &Session{
		id:                id,
		state:             SessionNew,
		ttl:               DefaultTTL,
		heartbeatInterval: DefaultHeartbeatInterval,
		queue:             newMessageQueue(),
		logger:            logging.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.expiresAt = time.Now().Add(s.ttl)

	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// New reports whether the session has not been opened yet.
func (s *Session) New() bool { return s.State() == SessionNew }

// Opened reports whether the session is open.
func (s *Session) Opened() bool { return s.State() == SessionOpen }

// Interrupted reports whether the session was interrupted.
func (s *Session) Interrupted() bool { return s.State() == SessionInterrupted }

// Closed reports whether the session was closed cleanly.
func (s *Session) Closed() bool { return s.State() == SessionClosed }

// Bind attaches the connection that receives this session's events.
func (s *Session) Bind(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// Open transitions the session from new to open and dispatches the open
// event to the bound connection. A heartbeat task is started if the session
// was built with a heartbeat interval.
func (s *Session) Open() error {
	s.mu.Lock()
	if s.state != SessionNew {
		s.mu.Unlock()
		return ErrSessionNotNew
	}

	s.state = SessionOpen
	conn := s.conn
	s.mu.Unlock()

	s.logger.Debug("session opened", logging.Fields{"session_id": s.id})

	if conn != nil {
		conn.sessionOpened()
	}

	s.startHeartbeat()

	return nil
}

// startHeartbeat spawns the heartbeat task unless one is already running or
// heartbeats are disabled.
func (s *Session) startHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startHeartbeatLocked()
}

// startHeartbeatLocked is startHeartbeat for callers already holding s.mu.
func (s *Session) startHeartbeatLocked() {
	if s.heartbeatInterval <= 0 || s.heartbeatRunning || s.state != SessionOpen {
		return
	}

	s.heartbeatRunning = true

	go s.runHeartbeat()
}

// Close transitions the session to closed and dispatches the close event to
// the bound connection. Calling Close on a terminal session is a no-op.
func (s *Session) Close() {
	s.close(SessionClosed)
}

// Interrupt marks the session as interrupted. Messages may have been lost.
func (s *Session) Interrupt() {
	s.close(SessionInterrupted)
}

func (s *Session) close(reason SessionState) {
	s.mu.Lock()
	if s.state == SessionClosed || s.state == SessionInterrupted {
		s.mu.Unlock()
		return
	}

	s.state = reason
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.logger.Debug("session closed", logging.Fields{
		"session_id": s.id,
		"state":      reason.String(),
	})

	// wake any reader blocked on the queue so it can observe the state
	s.queue.wake()

	if conn != nil {
		conn.sessionClosed()
	}
}

// AddMessages appends messages to the tail of the queue and bumps the TTL.
func (s *Session) AddMessages(messages ...interface{}) {
	if len(messages) == 0 {
		return
	}

	s.queue.push(messages...)
	s.Touch()
}

// GetMessages drains all immediately available messages, preserving order.
// If the queue is empty it blocks until the first message arrives, the
// timeout elapses, or ctx is cancelled. A timeout <= 0 means wait until ctx
// is done. Bumps the TTL.
func (s *Session) GetMessages(ctx context.Context, timeout time.Duration) []interface{} {
	s.Touch()

	return s.queue.get(ctx, timeout)
}

// Dispatch forwards messages to the bound connection in order. Messages are
// silently dropped if no connection is bound.
func (s *Session) Dispatch(messages ...interface{}) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}

	for _, msg := range messages {
		conn.dispatchMessage(msg)
	}
}

// Lock acquires the requested channels for owner. If the session is terminal
// or a requested channel is held by a different transport, a
// SessionUnavailableError is returned and neither channel changes owner.
// Re-acquiring a channel the owner already holds is idempotent.
func (s *Session) Lock(owner TransportHandle, read, write bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionInterrupted:
		return NewSessionUnavailableError(protocol.ConnInterrupted)
	case SessionClosed:
		return NewSessionUnavailableError(protocol.ConnClosed)
	}

	// check both channels before installing either, so a failure leaves the
	// owners untouched
	if read && s.reader != nil && s.reader != owner {
		return NewSessionUnavailableError(protocol.ConnAlreadyOpen)
	}

	if write && s.writer != nil && s.writer != owner {
		return NewSessionUnavailableError(protocol.ConnAlreadyOpen)
	}

	if read {
		s.reader = owner

		// a returning reader restarts the heartbeat task
		s.startHeartbeatLocked()
	}

	if write {
		s.writer = owner
	}

	return nil
}

// Unlock releases the requested channels, but only those currently owned by
// owner. A stale transport can never clear a newer owner's lock.
func (s *Session) Unlock(owner TransportHandle, read, write bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if read && s.reader == owner {
		s.reader = nil
	}

	if write && s.writer == owner {
		s.writer = nil
	}
}

// ReadOwner returns the transport currently holding the read channel.
func (s *Session) ReadOwner() TransportHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader
}

// WriteOwner returns the transport currently holding the write channel.
func (s *Session) WriteOwner() TransportHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer
}

// Touch bumps the session expiry by the TTL interval.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = time.Now().Add(s.ttl)
}

// SetExpiry sets an absolute expiry time. The zero time means the session
// never expires.
func (s *Session) SetExpiry(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresAt = at
}

// HasExpired reports whether the session should be garbage collected at the
// given time. Terminal sessions are always expired.
func (s *Session) HasExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionClosed || s.state == SessionInterrupted {
		return true
	}

	if s.expiresAt.IsZero() {
		return false
	}

	return !s.expiresAt.After(now)
}

// runHeartbeat pushes heartbeat frames to the attached reader until the
// session leaves the open state, the reader detaches, or a send fails.
func (s *Session) runHeartbeat() {
	ticker := time.NewTicker(s.heartbeatInterval)

	defer func() {
		ticker.Stop()

		s.mu.Lock()
		s.heartbeatRunning = false
		s.mu.Unlock()
	}()

	for range ticker.C {
		if !s.Opened() {
			return
		}

		reader := s.ReadOwner()
		if reader == nil {
			return
		}

		if err := reader.SendHeartbeat(); err != nil {
			s.logger.Debug("heartbeat failed", logging.Fields{
				"session_id": s.id,
				"error":      err.Error(),
			})
			return
		}

		s.Touch()
	}
}
