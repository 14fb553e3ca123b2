package server

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
)

// greetingBody answers the root and endpoint-root URLs.
const greetingBody = "Welcome to SockJS!\n"

// iframeTemplate is the cross-domain bootstrap page. The endpoint's client
// script URL is substituted in; the md5 of the result is its ETag.
const iframeTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta http-equiv="X-UA-Compatible" content="IE=edge" />
  <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
  <script>
    document.domain = document.domain;
    _sockjs_onload = function(){SockJS.bootstrap_iframe();};
  </script>
  <script src="%s"></script>
</head>
<body>
  <h2>Don't panic!</h2>
  <p>This is a SockJS hidden iframe. It's used for cross domain magic.</p>
</body>
</html>`

var iframePathRE = regexp.MustCompile(`^iframe[0-9\-.a-z_]*\.html$`)

// Router maps the SockJS URL grammar onto an application's endpoints:
//
//	/                                        greeting
//	/<endpoint>                              greeting
//	/<endpoint>/info                         capability probe
//	/<endpoint>/iframe*.html                 cross-domain bootstrap page
//	/<endpoint>/websocket                    raw websocket
//	/<endpoint>/<server>/<session>/<transport>
//
// It validates the grammar and delegates; session state is never touched
// here.
type Router struct {
	app    *Application
	logger *logging.Logger
}

// NewRouter builds a router serving the given application.
func NewRouter(app *Application, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}

	return &Router{app: app, logger: logger}
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := NewRequestHandler(w, r, rt.logger)

	// leading slash produces an empty first element; drop it
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}

	if len(parts) == 0 || parts[0] == "" {
		// "/" or ""
		rt.doGreeting(h)
		return
	}

	endpointName := parts[0]
	rest := parts[1:]

	endpoint := rt.app.GetEndpoint(endpointName)
	if endpoint == nil {
		h.NotFound(fmt.Sprintf("Unknown endpoint %q", endpointName))
		return
	}

	if len(rest) == 0 {
		// /echo
		rt.doGreeting(h)
		return
	}

	head := rest[0]
	rest = rest[1:]

	if head == "" {
		if len(rest) == 0 {
			// /echo/
			rt.doGreeting(h)
		} else {
			// /echo//...
			h.NotFound("")
		}

		return
	}

	if head == "info" {
		// one trailing empty segment is tolerated: /echo/info/
		if len(rest) > 1 || (len(rest) == 1 && rest[0] != "") {
			h.NotFound("")
			return
		}

		rt.doInfo(h, endpoint)

		return
	}

	if strings.HasPrefix(head, "iframe") {
		if !iframePathRE.MatchString(head) || len(rest) != 0 {
			h.NotFound("")
			return
		}

		rt.doIframe(h, endpoint)

		return
	}

	if head == "websocket" && len(rest) == 0 {
		rt.doTransport(h, endpoint, "", uuid.New().String(), "rawwebsocket")
		return
	}

	// only /<server_id>/<session_id>/<transport> remains
	serverID := head

	if serverID == "" || strings.Contains(serverID, ".") {
		h.NotFound("")
		return
	}

	if len(rest) != 2 {
		h.NotFound("")
		return
	}

	sessionID, transportName := rest[0], rest[1]

	if sessionID == "" || strings.Contains(sessionID, ".") {
		h.NotFound("")
		return
	}

	if transportName == "" {
		h.NotFound("")
		return
	}

	rt.doTransport(h, endpoint, serverID, sessionID, transportName)
}

func (rt *Router) doGreeting(h *RequestHandler) {
	if h.HandleOptions(http.MethodGet) {
		return
	}

	h.EnableCache()
	h.WriteText(greetingBody)
}

func (rt *Router) doInfo(h *RequestHandler, endpoint *Endpoint) {
	if h.HandleOptions(http.MethodGet) {
		return
	}

	h.EnableCORS()
	h.DisableCache()
	h.WriteJSON(endpoint.GetInfo())
}

func (rt *Router) doIframe(h *RequestHandler, endpoint *Endpoint) {
	if h.HandleOptions(http.MethodGet) {
		return
	}

	content := fmt.Sprintf(iframeTemplate, endpoint.ClientURL())

	digest := md5.Sum([]byte(content))
	etag := hex.EncodeToString(digest[:])

	if match := h.Request().Header.Get("If-None-Match"); match == etag {
		h.NotModified()
		return
	}

	h.ResponseWriter().Header().Set("ETag", etag)
	h.EnableCache()
	h.WriteHTML(content)
}

func (rt *Router) doTransport(h *RequestHandler, endpoint *Endpoint, serverID, sessionID, transportName string) {
	tt, ok := getTransportType(transportName)
	if !ok {
		h.NotFound("")
		return
	}

	if !endpoint.TransportAllowed(transportName) {
		h.NotFound("")
		return
	}

	session := endpoint.GetSessionForTransport(sessionID, tt)
	if session == nil {
		h.NotFound("")
		return
	}

	if session.New() {
		session.Bind(endpoint.MakeConnection(session))
	}

	tr := tt.create(session, h, endpoint)

	if err := tr.Handle(); err != nil {
		session.Interrupt()

		if errors.Is(err, errClientDisconnected) {
			rt.logger.Debug("client disconnected", logging.Fields{
				"session_id": sessionID,
				"transport":  transportName,
			})

			return
		}

		rt.logger.Error("transport failed", logging.Fields{
			"session_id": sessionID,
			"transport":  transportName,
			"error":      err.Error(),
		})

		if !h.Started() {
			message := ""
			if endpoint.Trace() {
				message = err.Error()
			}

			h.InternalError(message, endpoint.Trace())
		}
	}
}
