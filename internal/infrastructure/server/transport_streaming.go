package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/domain"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/protocol"
)

// DefaultResponseLimit is the number of body bytes a streaming transport
// writes before ending the response and forcing the client to reconnect.
const DefaultResponseLimit = 128 * 1024

// htmlFileTemplate is the iframe document served by the htmlfile transport.
// The callback name is substituted in and the result padded to force
// browsers to start interpreting it.
const htmlFileTemplate = `<!doctype html>
<html><head>
  <meta http-equiv="X-UA-Compatible" content="IE=edge" />
  <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
</head><body><h2>Don't panic!</h2>
  <script>
    document.domain = document.domain;
    var c = parent.%s;
    c.start();
    function p(d) {c.message(d);};
    window.onload = function() {c.stop();};
  </script>`

// htmlFileMinSize is the minimum prelude size for the htmlfile document.
const htmlFileMinSize = 1025

// streamingTransport keeps the response open, pumping message frames until
// the byte budget is spent or the session leaves the open state.
type streamingTransport struct {
	baseTransport

	responseLimit int64
}

func (t *streamingTransport) prepareRequest() error {
	t.startResponse(http.StatusOK)
	return nil
}

func (t *streamingTransport) doOpen() error {
	return t.writeOpenFrame()
}

func (t *streamingTransport) processRequest() error {
	ctx := t.handler.Request().Context()
	budget := t.responseLimit + t.handler.ResponseLength()

	for t.handler.ResponseLength() < budget {
		if !t.session.Opened() {
			break
		}

		messages := t.session.GetMessages(ctx, t.timeout)

		if ctx.Err() != nil {
			return errClientDisconnected
		}

		if len(messages) == 0 {
			continue
		}

		if err := t.writeMessageFrame(messages); err != nil {
			t.session.Interrupt()
			break
		}
	}

	switch {
	case t.session.Closed():
		t.writeCloseFrame(protocol.ConnClosed)
	case t.session.Interrupted():
		t.writeCloseFrame(protocol.ConnInterrupted)
	}

	return nil
}

func (t *streamingTransport) finalizeRequest() {}

// xhrStreamingTransport serves /<server>/<session>/xhr_streaming. It leads
// with a 2049-byte heartbeat prelude so intermediaries release the response
// to the client.
type xhrStreamingTransport struct {
	streamingTransport
}

func newXHRStreamingTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) *xhrStreamingTransport {
	t := &xhrStreamingTransport{}
	t.baseTransport = newBaseTransport(session, handler, endpoint)
	t.self = t
	t.readable = true
	t.cookie = true
	t.cors = true
	t.contentType = "application/javascript"
	t.methods = []string{http.MethodPost}
	t.timeout = defaultPollTimeout
	t.responseLimit = endpoint.ResponseLimit()
	t.encodeFrame = func(frame string) string { return frame + "\n" }

	return t
}

func (t *xhrStreamingTransport) doOpen() error {
	prelude := strings.Repeat("h", 2049)
	if _, err := t.handler.WriteString(t.encodeFrame(prelude)); err != nil {
		return errClientDisconnected
	}

	return t.writeOpenFrame()
}

func (t *xhrStreamingTransport) Handle() error {
	return t.handle(t)
}

// eventSourceTransport serves /<server>/<session>/eventsource using the
// EventSource wire format.
type eventSourceTransport struct {
	streamingTransport
}

func newEventSourceTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) *eventSourceTransport {
	t := &eventSourceTransport{}
	t.baseTransport = newBaseTransport(session, handler, endpoint)
	t.self = t
	t.readable = true
	t.cookie = true
	t.contentType = "text/event-stream"
	t.methods = []string{http.MethodGet}
	t.responseLimit = endpoint.ResponseLimit()
	t.encodeFrame = func(frame string) string {
		return "data: " + frame + "\r\n\r\n"
	}

	return t
}

func (t *eventSourceTransport) doOpen() error {
	if _, err := t.handler.WriteString("\r\n"); err != nil {
		return errClientDisconnected
	}

	return t.writeOpenFrame()
}

func (t *eventSourceTransport) Handle() error {
	return t.handle(t)
}

// htmlFileTransport serves /<server>/<session>/htmlfile: a streamed HTML
// document whose script tags hand each frame to the parent window callback.
type htmlFileTransport struct {
	streamingTransport

	callback string
}

func newHTMLFileTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) *htmlFileTransport {
	t := &htmlFileTransport{}
	t.baseTransport = newBaseTransport(session, handler, endpoint)
	t.self = t
	t.readable = true
	t.cookie = true
	t.contentType = "text/html"
	t.methods = []string{http.MethodGet}
	t.responseLimit = endpoint.ResponseLimit()
	t.encodeFrame = func(frame string) string {
		escaped := strings.ReplaceAll(frame, `"`, `\"`)
		return "<script>\np(\"" + escaped + "\");\n</script>\r\n"
	}

	return t
}

func (t *htmlFileTransport) prepareRequest() error {
	query := t.handler.Request().URL.Query()

	t.callback = query.Get("c")
	if t.callback == "" {
		t.callback = query.Get("callback")
	}

	if t.callback == "" {
		t.handler.InternalError(`"callback" parameter required`, false)
		return errAbortRequest
	}

	t.startResponse(http.StatusOK)

	return nil
}

func (t *htmlFileTransport) doOpen() error {
	document := fmt.Sprintf(htmlFileTemplate, t.callback)
	if len(document) < htmlFileMinSize {
		document = strings.Repeat(" ", htmlFileMinSize-len(document)) + document
	}

	if _, err := t.handler.WriteString(document); err != nil {
		return errClientDisconnected
	}

	return t.writeOpenFrame()
}

func (t *htmlFileTransport) Handle() error {
	return t.handle(t)
}
