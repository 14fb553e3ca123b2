package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/domain"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/protocol"
)

// upgrader performs the WebSocket handshake. SockJS does its own origin
// policy via the /info response, so the handshake accepts any origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// socketTransport is the duplex shape shared by the SockJS websocket
// transport and the raw variant: one goroutine pulls messages from the
// session and writes them to the socket, another reads client data and
// dispatches it. Either side finishing tears the other down.
type socketTransport struct {
	session  *domain.Session
	handler  *RequestHandler
	endpoint *Endpoint

	conn *websocket.Conn
	wmu  sync.Mutex

	logger *logging.Logger
}

func newSocketTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) socketTransport {
	return socketTransport{
		session:  session,
		handler:  handler,
		endpoint: endpoint,
		logger:   endpoint.Logger(),
	}
}

// writeText sends one text frame, serializing writers: the poll loop, the
// heartbeat task and the shutdown path all write through here.
func (t *socketTransport) writeText(data string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	return t.conn.WriteMessage(websocket.TextMessage, []byte(data))
}

// upgrade performs the handshake. On failure the upgrader has already
// answered the request.
func (t *socketTransport) upgrade() bool {
	conn, err := upgrader.Upgrade(t.handler.ResponseWriter(), t.handler.Request(), nil)
	if err != nil {
		t.logger.Debug("websocket upgrade failed", logging.Fields{
			"session_id": t.session.ID(),
			"error":      err.Error(),
		})
		return false
	}

	t.conn = conn

	return true
}

// run drives the poll and put loops until one of them finishes, then cancels
// the other. Returns the error of whichever loop failed first, with client
// departures reported as errClientDisconnected.
func (t *socketTransport) run(owner transport, poll, put func(ctx context.Context) error) error {
	if err := t.session.Lock(owner, true, true); err != nil {
		var unavailable *domain.SessionUnavailableError
		if errors.As(err, &unavailable) {
			frame := protocol.NewCloseFrame(unavailable.Status.Code, unavailable.Status.Reason)
			_ = t.writeText(frame)
		}

		return nil
	}

	defer t.session.Unlock(owner, true, true)

	if t.session.New() {
		if err := t.session.Open(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(t.handler.Request().Context())
	defer cancel()

	done := make(chan error, 2)

	go func() {
		done <- poll(ctx)
		cancel()
	}()

	go func() {
		done <- put(ctx)
		cancel()
	}()

	err := <-done

	// cancel wakes a poll parked on the session queue; closing the socket
	// wakes a put parked on ReadMessage. Reap the sibling so neither loop
	// outlives the request.
	cancel()

	select {
	case <-done:
	default:
		_ = t.conn.Close()
		<-done
	}

	return err
}

// websocketTransport serves /<server>/<session>/websocket with full SockJS
// framing.
type websocketTransport struct {
	socketTransport
}

func newWebSocketTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) *websocketTransport {
	return &websocketTransport{
		socketTransport: newSocketTransport(session, handler, endpoint),
	}
}

// SendHeartbeat pushes a heartbeat frame to the client.
func (t *websocketTransport) SendHeartbeat() error {
	return t.writeText(protocol.HeartbeatFrame)
}

func (t *websocketTransport) Handle() error {
	if t.handler.HandleOptions(http.MethodGet) {
		return nil
	}

	if !t.upgrade() {
		return nil
	}

	defer t.conn.Close()

	if err := t.writeText(protocol.OpenFrame); err != nil {
		return errClientDisconnected
	}

	return t.run(t, t.poll, t.put)
}

// poll pulls message batches from the session and writes them as "a" frames
// until the session leaves the open state.
func (t *websocketTransport) poll(ctx context.Context) error {
	for {
		messages := t.session.GetMessages(ctx, 0)

		if ctx.Err() != nil {
			return errClientDisconnected
		}

		if len(messages) > 0 {
			frame, err := protocol.NewMessageFrame(messages...)
			if err != nil {
				return err
			}

			if err := t.writeText(frame); err != nil {
				return errClientDisconnected
			}
		}

		if !t.session.Opened() {
			// a clean shutdown tells the client not to come back
			if t.session.Closed() {
				_ = t.writeText(protocol.NewCloseFrame(protocol.ConnClosed.Code, protocol.ConnClosed.Reason))
			}

			return nil
		}
	}
}

// put reads client frames, decodes them and dispatches the messages. A bare
// JSON value is wrapped in a single-element batch; undecodable data closes
// the socket silently.
func (t *websocketTransport) put(ctx context.Context) error {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				t.session.Close()
				return nil
			}

			if ctx.Err() != nil {
				return nil
			}

			return errClientDisconnected
		}

		if len(data) == 0 {
			continue
		}

		messages, err := protocol.DecodeAny(data)
		if err != nil {
			// invalid JSON kills the socket without a close frame
			return errClientDisconnected
		}

		t.session.Dispatch(messages...)
	}
}

// rawWebSocketTransport serves /websocket: plain text messages with no
// SockJS framing at all.
type rawWebSocketTransport struct {
	socketTransport
}

func newRawWebSocketTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) *rawWebSocketTransport {
	return &rawWebSocketTransport{
		socketTransport: newSocketTransport(session, handler, endpoint),
	}
}

// SendHeartbeat pushes a bare heartbeat line to the client.
func (t *rawWebSocketTransport) SendHeartbeat() error {
	return t.writeText(protocol.HeartbeatFrame + "\n")
}

func (t *rawWebSocketTransport) Handle() error {
	if t.handler.HandleOptions(http.MethodGet) {
		return nil
	}

	if !t.upgrade() {
		return nil
	}

	defer t.conn.Close()

	return t.run(t, t.poll, t.put)
}

func (t *rawWebSocketTransport) poll(ctx context.Context) error {
	for {
		messages := t.session.GetMessages(ctx, 0)

		if ctx.Err() != nil {
			return errClientDisconnected
		}

		for _, message := range messages {
			text, ok := message.(string)
			if !ok {
				text = fmt.Sprint(message)
			}

			if err := t.writeText(text); err != nil {
				return errClientDisconnected
			}
		}

		if !t.session.Opened() {
			return nil
		}
	}
}

func (t *rawWebSocketTransport) put(ctx context.Context) error {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				t.session.Close()
				return nil
			}

			if ctx.Err() != nil {
				return nil
			}

			return errClientDisconnected
		}

		t.session.Dispatch(string(data))
	}
}
