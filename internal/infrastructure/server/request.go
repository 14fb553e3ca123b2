package server

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
	"github.com/segmentio/encoding/json"
)

// cacheMaxAge is how long cacheable responses (greeting, iframe) stay fresh.
const cacheMaxAge = 365 * 24 * time.Hour

// RequestHandler wraps one HTTP exchange with the header and response
// helpers shared by the router and the transports. It counts body bytes so
// streaming transports can enforce their response limit, and flushes after
// every write so frames reach the client immediately.
type RequestHandler struct {
	w http.ResponseWriter
	r *http.Request

	// wmu serializes body writes: the heartbeat task and a streaming pump
	// may write concurrently.
	wmu sync.Mutex

	written     int64
	wroteHeader bool

	logger *logging.Logger
}

// NewRequestHandler builds a handler for the given exchange.
func NewRequestHandler(w http.ResponseWriter, r *http.Request, logger *logging.Logger) *RequestHandler {
	if logger == nil {
		logger = logging.Default()
	}

	return &RequestHandler{w: w, r: r, logger: logger}
}

// Request returns the underlying HTTP request.
func (h *RequestHandler) Request() *http.Request {
	return h.r
}

// ResponseWriter returns the underlying response writer. Used by the
// websocket transports to perform the upgrade.
func (h *RequestHandler) ResponseWriter() http.ResponseWriter {
	return h.w
}

// ResponseLength returns the number of body bytes written so far.
func (h *RequestHandler) ResponseLength() int64 {
	return atomic.LoadInt64(&h.written)
}

// Write sends body bytes, starting a 200 response if none was started, and
// flushes so the client sees the data without buffering delays.
func (h *RequestHandler) Write(data []byte) (int, error) {
	h.StartResponse(http.StatusOK)

	h.wmu.Lock()
	defer h.wmu.Unlock()

	n, err := h.w.Write(data)
	atomic.AddInt64(&h.written, int64(n))

	if flusher, ok := h.w.(http.Flusher); ok {
		flusher.Flush()
	}

	return n, err
}

// WriteString sends a string body.
func (h *RequestHandler) WriteString(data string) (int, error) {
	return h.Write([]byte(data))
}

// StartResponse writes the response status line and headers. Subsequent
// calls are no-ops, so transports that already streamed a prelude do not
// clobber the status.
func (h *RequestHandler) StartResponse(status int) {
	h.wmu.Lock()
	defer h.wmu.Unlock()

	if h.wroteHeader {
		return
	}

	h.wroteHeader = true
	h.w.WriteHeader(status)
}

// Started reports whether the response status has been written.
func (h *RequestHandler) Started() bool {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	return h.wroteHeader
}

// SetContentType sets the Content-Type header, appending the charset the
// SockJS clients expect when none is present.
func (h *RequestHandler) SetContentType(contentType string) {
	if contentType == "" {
		return
	}

	if !strings.Contains(contentType, ";") {
		contentType += "; charset=UTF-8"
	}

	h.w.Header().Set("Content-Type", contentType)
}

// EnableCORS reflects the request origin into the CORS response headers. A
// missing or null origin falls back to the wildcard.
func (h *RequestHandler) EnableCORS() {
	origin := h.r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		origin = "*"
	}

	if requested := h.r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		h.w.Header().Set("Access-Control-Allow-Headers", requested)
	}

	h.w.Header().Set("Access-Control-Allow-Origin", origin)
	h.w.Header().Set("Access-Control-Allow-Credentials", "true")
}

// EnableCache marks the response cacheable for a year.
func (h *RequestHandler) EnableCache() {
	seconds := int(cacheMaxAge.Seconds())

	h.w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(seconds)+", public")
	h.w.Header().Set("Expires", time.Now().Add(cacheMaxAge).UTC().Format(http.TimeFormat))
	h.w.Header().Set("Access-Control-Max-Age", strconv.Itoa(seconds))
}

// DisableCache marks the response explicitly non-cacheable.
func (h *RequestHandler) DisableCache() {
	h.w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
}

// EnableCookie sets the sticky JSESSIONID cookie load balancers key on,
// echoing the client's value when present.
func (h *RequestHandler) EnableCookie() {
	value := "dummy"
	if cookie, err := h.r.Cookie("JSESSIONID"); err == nil && cookie.Value != "" {
		value = cookie.Value
	}

	http.SetCookie(h.w, &http.Cookie{
		Name:  "JSESSIONID",
		Value: value,
		Path:  "/",
	})
}

// HandleOptions deals with the method-validation part of every SockJS URL.
// OPTIONS preflights get a 204 with the permitted methods; disallowed
// methods get a 405. Returns true if the request was fully answered here.
func (h *RequestHandler) HandleOptions(allowed ...string) bool {
	method := strings.ToUpper(h.r.Method)
	methods := append([]string{http.MethodOptions}, allowed...)

	if method != http.MethodOptions {
		for _, m := range methods {
			if method == m {
				return false
			}
		}

		h.NotAllowed(methods...)

		return true
	}

	h.EnableCache()
	h.EnableCookie()
	h.EnableCORS()
	h.w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	h.StartResponse(http.StatusNoContent)

	return true
}

// WriteText sends a plain text body.
func (h *RequestHandler) WriteText(body string) {
	h.SetContentType("text/plain")
	h.StartResponse(http.StatusOK)
	_, _ = h.WriteString(body)
}

// WriteHTML sends an HTML body.
func (h *RequestHandler) WriteHTML(body string) {
	h.SetContentType("text/html")
	h.StartResponse(http.StatusOK)
	_, _ = h.WriteString(body)
}

// WriteJSON marshals v and sends it as an application/json body.
func (h *RequestHandler) WriteJSON(v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		h.InternalError("", false)
		return
	}

	h.SetContentType("application/json")
	h.StartResponse(http.StatusOK)
	_, _ = h.Write(body)
}

// WriteNothing sends an empty 204 response.
func (h *RequestHandler) WriteNothing() {
	h.StartResponse(http.StatusNoContent)
}

// NotModified sends an empty 304 response.
func (h *RequestHandler) NotModified() {
	h.StartResponse(http.StatusNotModified)
}

// NotFound sends a 404 with an optional message.
func (h *RequestHandler) NotFound(message string) {
	if message == "" {
		message = "404 Error: Not Found"
	}

	h.SetContentType("text/plain")
	h.EnableCookie()
	h.StartResponse(http.StatusNotFound)
	_, _ = h.WriteString(message)
}

// NotAllowed sends a 405 listing the valid methods.
func (h *RequestHandler) NotAllowed(methods ...string) {
	h.w.Header().Set("Allow", strings.Join(methods, ", "))
	h.w.Header().Set("Connection", "close")
	h.StartResponse(http.StatusMethodNotAllowed)
}

// BadRequest sends a 400 with an optional message.
func (h *RequestHandler) BadRequest(message string) {
	h.SetContentType("text/plain")
	h.StartResponse(http.StatusBadRequest)

	if message != "" {
		_, _ = h.WriteString(message)
	}
}

// InternalError sends a 500 with message as the body. With an empty message
// the body stays empty, unless trace is set, in which case a generic
// "500 Internal Server Error" line is written.
func (h *RequestHandler) InternalError(message string, trace bool) {
	h.SetContentType("text/plain")
	h.StartResponse(http.StatusInternalServerError)

	if message != "" {
		_, _ = h.WriteString(message)
	} else if trace {
		_, _ = h.WriteString("500 Internal Server Error")
	}
}
