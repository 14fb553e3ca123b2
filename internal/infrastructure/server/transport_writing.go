package server

import (
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/domain"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/protocol"
)

// payloadReader extracts the client payload for a writing-only transport.
type payloadReader interface {
	getPayload() ([]byte, error)
}

// writingOnlyTransport is the shape shared by xhr_send and jsonp_send: read
// the POST body, decode it as a JSON array, dispatch every element to the
// session's connection.
type writingOnlyTransport struct {
	baseTransport

	payload payloadReader
}

func (t *writingOnlyTransport) prepareRequest() error { return nil }

func (t *writingOnlyTransport) doOpen() error { return nil }

func (t *writingOnlyTransport) processRequest() error {
	payload, err := t.payload.getPayload()
	if err != nil {
		return err
	}

	if len(payload) == 0 {
		return newTransportError("Payload expected.")
	}

	messages, err := protocol.DecodeMessages(payload)
	if err != nil {
		return newTransportError("Broken JSON encoding.")
	}

	t.session.Dispatch(messages...)

	return nil
}

func (t *writingOnlyTransport) readBody() ([]byte, error) {
	body, err := io.ReadAll(t.handler.Request().Body)
	if err != nil {
		return nil, errClientDisconnected
	}

	return body, nil
}

// xhrSendTransport serves /<server>/<session>/xhr_send.
type xhrSendTransport struct {
	writingOnlyTransport
}

func newXHRSendTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) *xhrSendTransport {
	t := &xhrSendTransport{}
	t.baseTransport = newBaseTransport(session, handler, endpoint)
	t.self = t
	t.payload = t
	t.writable = true
	t.cookie = true
	t.cors = true
	t.methods = []string{http.MethodPost}

	return t
}

func (t *xhrSendTransport) getPayload() ([]byte, error) {
	return t.readBody()
}

func (t *xhrSendTransport) finalizeRequest() {
	if t.session.Opened() {
		t.handler.SetContentType(t.contentType)
		t.handler.DisableCache()
		t.handler.EnableCORS()
		t.handler.EnableCookie()
		t.handler.WriteNothing()
	}
}

func (t *xhrSendTransport) Handle() error {
	return t.handle(t)
}

// jsonpSendTransport serves /<server>/<session>/jsonp_send. The payload
// arrives either as the raw body or, for form posts, in the "d" field.
type jsonpSendTransport struct {
	writingOnlyTransport
}

func newJSONPSendTransport(session *domain.Session, handler *RequestHandler, endpoint *Endpoint) *jsonpSendTransport {
	t := &jsonpSendTransport{}
	t.baseTransport = newBaseTransport(session, handler, endpoint)
	t.self = t
	t.payload = t
	t.writable = true
	t.cookie = true
	t.methods = []string{http.MethodPost}

	return t
}

func (t *jsonpSendTransport) getPayload() ([]byte, error) {
	body, err := t.readBody()
	if err != nil {
		return nil, err
	}

	contentType := t.handler.Request().Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}

	if contentType != "application/x-www-form-urlencoded" {
		return body, nil
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, newTransportError("Payload expected.")
	}

	return []byte(form.Get("d")), nil
}

func (t *jsonpSendTransport) finalizeRequest() {
	if t.session.Opened() {
		t.startResponse(http.StatusOK)
		_, _ = t.handler.WriteString("ok")
	}
}

func (t *jsonpSendTransport) Handle() error {
	return t.handle(t)
}
