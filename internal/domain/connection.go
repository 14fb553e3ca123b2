package domain

import "sync"

// Handler receives the application-level events of one session. Implemented
// by SDK users; one handler instance is created per session.
type Handler interface {
	// OnOpen is called once when the session opens.
	OnOpen(conn *Connection)

	// OnMessage is called for every message decoded from the client, in
	// arrival order.
	OnMessage(conn *Connection, message interface{})

	// OnClose is called once when the session closes or is interrupted.
	OnClose(conn *Connection)
}

// Connection bridges a session to the application handler. It is created by
// the endpoint when a session is first bound and holds the only
// application-facing reference to the session; Close severs it.
type Connection struct {
	mu       sync.Mutex
	session  *Session
	handler  Handler
	finished func(*Connection)
}

// NewConnection builds a connection bound to the given session. The finished
// callback, if set, is invoked after the connection closes so the owning
// endpoint can account for it.
func NewConnection(session *Session, handler Handler, finished func(*Connection)) *Connection {
	return &Connection{
		session:  session,
		handler:  handler,
		finished: finished,
	}
}

// Send queues a message for delivery to the client. A no-op once the
// connection has been closed. The message must be JSON encodable.
func (c *Connection) Send(message interface{}) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return
	}

	session.AddMessages(message)
}

// Close detaches from the session, closes it, and notifies the endpoint.
// Idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	session := c.session
	finished := c.finished
	c.session = nil
	c.finished = nil
	c.mu.Unlock()

	if session == nil {
		return
	}

	session.Close()

	if finished != nil {
		finished(c)
	}
}

// sessionOpened is invoked by the session when it transitions to open.
func (c *Connection) sessionOpened() {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler.OnOpen(c)
	}
}

// sessionClosed is invoked by the session when it reaches a terminal state.
func (c *Connection) sessionClosed() {
	c.mu.Lock()
	handler := c.handler
	finished := c.finished
	c.session = nil
	c.finished = nil
	c.mu.Unlock()

	if handler != nil {
		handler.OnClose(c)
	}

	if finished != nil {
		finished(c)
	}
}

// dispatchMessage forwards a decoded client message to the handler.
func (c *Connection) dispatchMessage(message interface{}) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler.OnMessage(c, message)
	}
}
