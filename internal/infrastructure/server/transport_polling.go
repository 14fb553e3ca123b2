package server

import (
	"fmt"
	"net/http"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/domain"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/protocol"
)

// pollingTransport is the long-polling shape: one producer pass per request.
// A request that created the session answers with just the open frame; any
// other request drains the queue, blocking for the first message up to the
// poll timeout.
type pollingTransport struct {
	baseTransport
}

func (t *pollingTransport) prepareRequest() error {
	t.startResponse(http.StatusOK)
	return nil
}

func (t *pollingTransport) doOpen() error {
	return t.writeOpenFrame()
}

func (t *pollingTransport) processRequest() error {
	if t.openFrameWritten {
		return nil
	}

	ctx := t.handler.Request().Context()
	messages := t.session.GetMessages(ctx, t.timeout)

	if ctx.Err() != nil {
		// client went away while we were blocked on the queue
		return errClientDisconnected
	}

	return t.writeMessageFrame(messages)
}

func (t *pollingTransport) finalizeRequest() {}

// xhrPollingTransport serves /<server>/<session>/xhr.
type xhrPollingTransport struct {
	pollingTransport
}

func newXHRPollingTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) *xhrPollingTransport {
	t := &xhrPollingTransport{}
	t.baseTransport = newBaseTransport(session, handler, endpoint)
	t.self = t
	t.readable = true
	t.cookie = true
	t.cors = true
	t.contentType = "application/javascript"
	t.methods = []string{http.MethodPost}
	t.encodeFrame = func(frame string) string { return frame + "\n" }

	return t
}

func (t *xhrPollingTransport) Handle() error {
	return t.handle(t)
}

// jsonpPollingTransport serves /<server>/<session>/jsonp. Frames are wrapped
// in the callback named by the "c" (or "callback") query parameter.
type jsonpPollingTransport struct {
	pollingTransport

	callback string
}

func newJSONPPollingTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) *jsonpPollingTransport {
	t := &jsonpPollingTransport{}
	t.baseTransport = newBaseTransport(session, handler, endpoint)
	t.self = t
	t.readable = true
	t.cookie = true
	t.contentType = "application/javascript"
	t.methods = []string{http.MethodGet}
	t.encodeFrame = func(frame string) string {
		encoded, err := protocol.Encode(frame)
		if err != nil {
			return ""
		}

		return fmt.Sprintf("%s(%s);\r\n", t.callback, encoded)
	}

	return t
}

func (t *jsonpPollingTransport) prepareRequest() error {
	query := t.handler.Request().URL.Query()

	t.callback = query.Get("c")
	if t.callback == "" {
		t.callback = query.Get("callback")
	}

	if t.callback == "" {
		t.handler.InternalError(`"callback" parameter required`, false)
		return errAbortRequest
	}

	return t.pollingTransport.prepareRequest()
}

func (t *jsonpPollingTransport) Handle() error {
	return t.handle(t)
}
