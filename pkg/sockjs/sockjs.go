// Package sockjs is the public surface of the SockJS server SDK. It wires
// the session core, the transport adapters and the URL router into an
// http.Handler that application code mounts like any other.
package sockjs

import (
	"net/http"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/domain"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/server"
)

// Re-exported core types.
type (
	// Session is the transport independent message channel.
	Session = domain.Session

	// Connection bridges a session to the application handler.
	Connection = domain.Connection

	// Handler receives the events of one session.
	Handler = domain.Handler

	// Options is the per-endpoint configuration.
	Options = server.Options

	// Endpoint is a named SockJS application under a URL prefix.
	Endpoint = server.Endpoint

	// Application is the endpoint registry.
	Application = server.Application

	// Router is the http.Handler speaking the SockJS URL grammar.
	Router = server.Router

	// Logger is the structured logger used across the SDK.
	Logger = logging.Logger

	// LoggerConfig configures a Logger.
	LoggerConfig = logging.Config
)

// HandlerFuncs adapts plain functions to the Handler interface. Nil fields
// are simply skipped.
type HandlerFuncs struct {
	OnOpenFunc    func(conn *Connection)
	OnMessageFunc func(conn *Connection, message interface{})
	OnCloseFunc   func(conn *Connection)
}

// OnOpen implements Handler.
func (h HandlerFuncs) OnOpen(conn *Connection) {
	if h.OnOpenFunc != nil {
		h.OnOpenFunc(conn)
	}
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(conn *Connection, message interface{}) {
	if h.OnMessageFunc != nil {
		h.OnMessageFunc(conn, message)
	}
}

// OnClose implements Handler.
func (h HandlerFuncs) OnClose(conn *Connection) {
	if h.OnCloseFunc != nil {
		h.OnCloseFunc(conn)
	}
}

// NewApplication builds an application with the given default options.
func NewApplication(defaults Options, logger *Logger) *Application {
	opts := []server.ApplicationOption{server.WithDefaults(defaults)}
	if logger != nil {
		opts = append(opts, server.WithLogger(logger))
	}

	return server.NewApplication(opts...)
}

// NewEndpoint builds an endpoint whose sessions are handled by handlers
// from factory.
func NewEndpoint(factory func() Handler, opts Options) *Endpoint {
	return server.NewEndpoint(factory, opts)
}

// NewRouter builds the http.Handler serving the application.
func NewRouter(app *Application, logger *Logger) http.Handler {
	return server.NewRouter(app, logger)
}

// NewLogger builds a structured logger from the given configuration.
func NewLogger(config LoggerConfig) (*Logger, error) {
	return logging.New(config)
}

// NewDevelopmentLogger builds a debug-level development logger that writes
// JSON entries to stdout.
func NewDevelopmentLogger() (*Logger, error) {
	return logging.NewDevelopment()
}
