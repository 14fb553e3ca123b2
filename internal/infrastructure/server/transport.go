package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/domain"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/protocol"
)

// defaultPollTimeout is how long a sending transport waits on the session
// queue before giving up the poll.
const defaultPollTimeout = 5 * time.Second

// errAbortRequest signals that a lifecycle hook already answered the request
// and the remaining steps must be skipped. Never surfaced to the caller.
var errAbortRequest = errors.New("request aborted")

// transport is a per-request adapter instance. Handle drives the whole
// exchange; SendHeartbeat (from domain.TransportHandle) lets the session
// push heartbeat frames through whichever transport holds the read channel.
type transport interface {
	domain.TransportHandle

	Handle() error
}

// transportLifecycle is the set of hooks a concrete transport plugs into the
// uniform request lifecycle run by baseTransport.handle.
type transportLifecycle interface {
	// prepareRequest runs before the session lock. Validation failures
	// answer the request and return errAbortRequest.
	prepareRequest() error

	// doOpen writes the open frame for sessions seen for the first time.
	doOpen() error

	// processRequest is the per-shape pump.
	processRequest() error

	// finalizeRequest runs after the session is released, on success only.
	finalizeRequest()
}

// transportType describes one wire variant: its channel directions and a
// constructor. Registered in the static table below and consulted by the
// endpoint when resolving sessions.
type transportType struct {
	readable bool
	writable bool
	create   func(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) transport
}

// socket reports whether the variant owns both channels for its lifetime.
func (t transportType) socket() bool {
	return t.readable && t.writable
}

// transportTypes maps the URL transport segment to its variant.
var transportTypes = map[string]transportType{
	"xhr": {
		readable: true,
		create: func(s *domain.Session, h *RequestHandler, e *Endpoint) transport {
			return newXHRPollingTransport(s, h, e)
		},
	},
	"xhr_send": {
		writable: true,
		create: func(s *domain.Session, h *RequestHandler, e *Endpoint) transport {
			return newXHRSendTransport(s, h, e)
		},
	},
	"xhr_streaming": {
		readable: true,
		create: func(s *domain.Session, h *RequestHandler, e *Endpoint) transport {
			return newXHRStreamingTransport(s, h, e)
		},
	},
	"jsonp": {
		readable: true,
		create: func(s *domain.Session, h *RequestHandler, e *Endpoint) transport {
			return newJSONPPollingTransport(s, h, e)
		},
	},
	"jsonp_send": {
		writable: true,
		create: func(s *domain.Session, h *RequestHandler, e *Endpoint) transport {
			return newJSONPSendTransport(s, h, e)
		},
	},
	"eventsource": {
		readable: true,
		create: func(s *domain.Session, h *RequestHandler, e *Endpoint) transport {
			return newEventSourceTransport(s, h, e)
		},
	},
	"htmlfile": {
		readable: true,
		create: func(s *domain.Session, h *RequestHandler, e *Endpoint) transport {
			return newHTMLFileTransport(s, h, e)
		},
	},
	"websocket": {
		readable: true,
		writable: true,
		create: func(s *domain.Session, h *RequestHandler, e *Endpoint) transport {
			return newWebSocketTransport(s, h, e)
		},
	},
	"rawwebsocket": {
		readable: true,
		writable: true,
		create: func(s *domain.Session, h *RequestHandler, e *Endpoint) transport {
			return newRawWebSocketTransport(s, h, e)
		},
	},
}

// getTransportType resolves a transport name from the URL grammar.
func getTransportType(name string) (transportType, bool) {
	t, ok := transportTypes[name]
	return t, ok
}

// frameEncoder post-processes a frame for one wire variant: newline
// suffixes, script tags, event-source data framing.
type frameEncoder func(frame string) string

func identityFrame(frame string) string { return frame }

// baseTransport carries the state and helpers every HTTP transport shares.
// Concrete transports embed it and plug their hooks into handle.
type baseTransport struct {
	session  *domain.Session
	handler  *RequestHandler
	endpoint *Endpoint

	// self is the handle installed as the session channel owner. Set by the
	// concrete constructor so lock identity matches the outer value.
	self transport

	readable bool
	writable bool

	cache       bool
	cookie      bool
	cors        bool
	contentType string
	methods     []string
	timeout     time.Duration

	encodeFrame frameEncoder

	// openFrameWritten records that doOpen emitted the open frame during
	// this request, which ends a polling pass immediately.
	openFrameWritten bool

	logger *logging.Logger
}

func newBaseTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) baseTransport {
	return baseTransport{
		session:     session,
		handler:     handler,
		endpoint:    endpoint,
		contentType: "text/plain",
		timeout:     defaultPollTimeout,
		encodeFrame: identityFrame,
		logger:      endpoint.Logger(),
	}
}

// handle drives the uniform request lifecycle: OPTIONS, prepare, lock, open,
// pump, release, finalize. Lock failures answer with a close frame; pump
// failures propagate to the router which interrupts the session.
func (t *baseTransport) handle(lc transportLifecycle) error {
	if t.handler.HandleOptions(t.methods...) {
		return nil
	}

	if err := lc.prepareRequest(); err != nil {
		if errors.Is(err, errAbortRequest) {
			return nil
		}

		return err
	}

	if !t.acquireSession() {
		return nil
	}

	err := func() error {
		defer t.releaseSession()

		if err := lc.doOpen(); err != nil {
			return err
		}

		if t.session.New() {
			if err := t.session.Open(); err != nil {
				return err
			}
		}

		return lc.processRequest()
	}()

	if err != nil {
		var terr *transportError
		if errors.As(err, &terr) {
			t.handler.InternalError(terr.message, false)
			return nil
		}

		return err
	}

	lc.finalizeRequest()

	return nil
}

// acquireSession locks the session channels this transport needs. On
// failure the request is answered with a 200 carrying the close frame.
func (t *baseTransport) acquireSession() bool {
	err := t.session.Lock(t.self, t.readable, t.writable)
	if err == nil {
		return true
	}

	var unavailable *domain.SessionUnavailableError
	if errors.As(err, &unavailable) {
		t.startResponse(http.StatusOK)
		t.writeCloseFrame(unavailable.Status)
	}

	return false
}

func (t *baseTransport) releaseSession() {
	t.session.Unlock(t.self, t.readable, t.writable)
}

// startResponse applies this transport's header profile and writes the
// status line. A no-op if the response already started.
func (t *baseTransport) startResponse(status int) {
	if t.handler.Started() {
		return
	}

	t.handler.SetContentType(t.contentType)

	if t.cache {
		t.handler.EnableCache()
	} else {
		t.handler.DisableCache()
	}

	if t.cors {
		t.handler.EnableCORS()
	}

	if t.cookie {
		t.handler.EnableCookie()
	}

	t.handler.StartResponse(status)
}

// writeOpenFrame emits the open frame if this request created the session.
func (t *baseTransport) writeOpenFrame() error {
	if !t.session.New() {
		return nil
	}

	if _, err := t.handler.WriteString(t.encodeFrame(protocol.OpenFrame)); err != nil {
		return err
	}

	t.openFrameWritten = true

	return nil
}

// writeMessageFrame emits an "a" frame carrying messages. Empty batches are
// skipped.
func (t *baseTransport) writeMessageFrame(messages []interface{}) error {
	if len(messages) == 0 {
		return nil
	}

	frame, err := protocol.NewMessageFrame(messages...)
	if err != nil {
		return err
	}

	_, err = t.handler.WriteString(t.encodeFrame(frame))

	return err
}

// writeCloseFrame emits a "c" frame for the given status.
func (t *baseTransport) writeCloseFrame(status protocol.CloseStatus) {
	frame := protocol.NewCloseFrame(status.Code, status.Reason)
	_, _ = t.handler.WriteString(t.encodeFrame(frame))
}

// SendHeartbeat writes a heartbeat frame. Shared by every sending HTTP
// transport; socket transports override it.
func (t *baseTransport) SendHeartbeat() error {
	_, err := t.handler.WriteString(t.encodeFrame(protocol.HeartbeatFrame))
	return err
}
