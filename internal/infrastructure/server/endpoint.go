package server

import (
	"math/rand"
	"sync"
	"time"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/domain"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
)

// DefaultClientURL is the SockJS client script referenced by the iframe
// transports. Maintained by the creator of SockJS.
const DefaultClientURL = "https://d1fxtkz8shb9d2.cloudfront.net/sockjs-0.3.min.js"

// Options carries the per-endpoint configuration. Endpoints inherit the
// application defaults; an explicit per-endpoint value overrides them,
// except DisabledTransports which accumulates.
type Options struct {
	// UseCookie enables the sticky JSESSIONID cookie on responses.
	UseCookie bool

	// ClientURL is the SockJS client script served from the iframe page.
	ClientURL string

	// DisabledTransports lists transport names this endpoint refuses.
	DisabledTransports []string

	// HeartbeatInterval is the cadence of heartbeat frames on attached
	// readers.
	HeartbeatInterval time.Duration

	// SessionTTL is the inactivity interval before a session expires.
	SessionTTL time.Duration

	// ResponseLimit is the streaming transport byte budget per request.
	ResponseLimit int64

	// Trace includes diagnostics in 500 response bodies.
	Trace bool
}

// DefaultOptions returns the option set used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ClientURL:         DefaultClientURL,
		HeartbeatInterval: domain.DefaultHeartbeatInterval,
		SessionTTL:        domain.DefaultTTL,
		ResponseLimit:     DefaultResponseLimit,
	}
}

// merge overlays o on top of base: zero values inherit, DisabledTransports
// accumulate.
func (o Options) merge(base Options) Options {
	merged := base

	if o.UseCookie {
		merged.UseCookie = true
	}

	if o.ClientURL != "" {
		merged.ClientURL = o.ClientURL
	}

	if o.HeartbeatInterval != 0 {
		merged.HeartbeatInterval = o.HeartbeatInterval
	}

	if o.SessionTTL != 0 {
		merged.SessionTTL = o.SessionTTL
	}

	if o.ResponseLimit != 0 {
		merged.ResponseLimit = o.ResponseLimit
	}

	if o.Trace {
		merged.Trace = true
	}

	merged.DisabledTransports = append(append([]string{}, base.DisabledTransports...), o.DisabledTransports...)

	return merged
}

// HandlerFactory builds the application handler bound to each new session.
type HandlerFactory func() domain.Handler

// Info is the payload of the /info capability response.
type Info struct {
	CookieNeeded            bool     `json:"cookie_needed"`
	WebSocket               bool     `json:"websocket"`
	Origins                 []string `json:"origins"`
	Entropy                 int64    `json:"entropy"`
	ServerHeartbeatInterval float64  `json:"server_heartbeat_interval"`
}

// Endpoint is one named SockJS application mounted under a URL prefix. It
// owns the session pool while started and builds a Connection for every
// session born on it.
type Endpoint struct {
	mu sync.Mutex

	factory HandlerFactory

	// userOpts is what the endpoint was built with; opts is the effective
	// set after overlaying application defaults.
	userOpts Options
	opts     Options

	pool    *domain.Pool
	started bool

	logger *logging.Logger
}

// NewEndpoint builds an endpoint that hands session events to handlers from
// the given factory.
func NewEndpoint(factory HandlerFactory, opts Options) *Endpoint {
	return &Endpoint{
		factory:  factory,
		userOpts: opts,
		opts:     opts.merge(DefaultOptions()),
		logger:   logging.Default(),
	}
}

// applyDefaults recomputes the effective options from the application
// defaults. Called when the endpoint is registered.
func (e *Endpoint) applyDefaults(defaults Options, logger *logging.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.opts = e.userOpts.merge(defaults.merge(DefaultOptions()))

	if logger != nil {
		e.logger = logger
	}
}

// Logger returns the endpoint's logger.
func (e *Endpoint) Logger() *logging.Logger {
	return e.logger
}

// Options returns the endpoint's effective configuration.
func (e *Endpoint) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// ResponseLimit returns the streaming byte budget.
func (e *Endpoint) ResponseLimit() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.ResponseLimit
}

// Trace reports whether 500 bodies carry diagnostics.
func (e *Endpoint) Trace() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.Trace
}

// ClientURL returns the configured SockJS client script URL.
func (e *Endpoint) ClientURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.ClientURL
}

// TransportAllowed reports whether the named transport is enabled on this
// endpoint.
func (e *Endpoint) TransportAllowed(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, disabled := range e.opts.DisabledTransports {
		if disabled == name {
			return false
		}
	}

	return true
}

// Start brings up the session pool. Idempotent.
func (e *Endpoint) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return
	}

	e.pool = domain.NewPool(domain.WithPoolLogger(e.logger))
	e.pool.Start()
	e.started = true
}

// Stop tears down the session pool, interrupting every live session.
func (e *Endpoint) Stop() {
	e.mu.Lock()
	pool := e.pool
	e.pool = nil
	e.started = false
	e.mu.Unlock()

	if pool != nil {
		pool.Stop()
	}
}

// Started reports whether the endpoint is serving.
func (e *Endpoint) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Pool returns the owned session pool, or nil when stopped.
func (e *Endpoint) Pool() *domain.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool
}

func (e *Endpoint) newSession(id string) *domain.Session {
	opts := e.Options()

	return domain.NewSession(id,
		domain.WithTTL(opts.SessionTTL),
		domain.WithHeartbeatInterval(opts.HeartbeatInterval),
		domain.WithSessionLogger(e.logger),
	)
}

// GetSessionForTransport resolves the session a transport request binds to.
// Socket transports always get a fresh, unpooled session. Readable
// transports find or create a pooled one. Writable-only transports may only
// find an existing session; nil tells the caller to answer 404.
func (e *Endpoint) GetSessionForTransport(sessionID string, tt transportType) *domain.Session {
	pool := e.Pool()
	if pool == nil {
		return nil
	}

	if tt.socket() {
		return e.newSession(sessionID)
	}

	if session := pool.Get(sessionID); session != nil {
		return session
	}

	if !tt.readable {
		return nil
	}

	session := e.newSession(sessionID)
	if err := pool.Add(session); err != nil {
		// lost a create race; the winner's session is the live one
		return pool.Get(sessionID)
	}

	return session
}

// MakeConnection builds the connection that receives the session's events.
func (e *Endpoint) MakeConnection(session *domain.Session) *domain.Connection {
	return domain.NewConnection(session, e.factory(), e.connectionFinished)
}

func (e *Endpoint) connectionFinished(conn *domain.Connection) {
	e.logger.Debug("connection finished")
}

// GetInfo reports this endpoint's capabilities for the /info probe.
func (e *Endpoint) GetInfo() Info {
	opts := e.Options()

	return Info{
		CookieNeeded:            opts.UseCookie,
		WebSocket:               e.TransportAllowed("websocket"),
		Origins:                 []string{"*:*"},
		Entropy:                 1 + rand.Int63n((1<<32)-1),
		ServerHeartbeatInterval: opts.HeartbeatInterval.Seconds(),
	}
}
