package server

import (
	"sync"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
)

// Application is the root object: a registry of named endpoints sharing a
// set of default options. Starting the application starts every endpoint;
// stopping it interrupts every live session.
type Application struct {
	mu sync.Mutex

	endpoints map[string]*Endpoint
	defaults  Options
	started   bool

	logger *logging.Logger
}

// ApplicationOption configures an Application.
type ApplicationOption func(*Application)

// WithDefaults sets the option defaults endpoints inherit.
func WithDefaults(opts Options) ApplicationOption {
	return func(a *Application) { a.defaults = opts }
}

// WithLogger sets the logger propagated to endpoints and sessions.
func WithLogger(logger *logging.Logger) ApplicationOption {
	return func(a *Application) { a.logger = logger }
}

// NewApplication builds an application with no endpoints.
func NewApplication(opts ...ApplicationOption) *Application {
	a := &Application{
		endpoints: make(map[string]*Endpoint),
		defaults:  DefaultOptions(),
		logger:    logging.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// AddEndpoint registers an endpoint under the given name, which becomes the
// first segment of its URL prefix. If the application is already started
// the endpoint starts immediately.
func (a *Application) AddEndpoint(name string, endpoint *Endpoint) error {
	a.mu.Lock()

	if _, ok := a.endpoints[name]; ok {
		a.mu.Unlock()
		return ErrEndpointExists
	}

	a.endpoints[name] = endpoint
	defaults := a.defaults
	started := a.started
	logger := a.logger
	a.mu.Unlock()

	endpoint.applyDefaults(defaults, logger.With(logging.Fields{"endpoint": name}))

	if started {
		endpoint.Start()
	}

	a.logger.Info("endpoint registered", logging.Fields{"endpoint": name})

	return nil
}

// RemoveEndpoint unregisters and stops the named endpoint.
func (a *Application) RemoveEndpoint(name string) error {
	a.mu.Lock()
	endpoint, ok := a.endpoints[name]
	delete(a.endpoints, name)
	a.mu.Unlock()

	if !ok {
		return ErrEndpointNotFound
	}

	endpoint.Stop()

	return nil
}

// GetEndpoint returns the named endpoint, or nil.
func (a *Application) GetEndpoint(name string) *Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endpoints[name]
}

// Start brings up every registered endpoint. Idempotent.
func (a *Application) Start() {
	a.mu.Lock()

	if a.started {
		a.mu.Unlock()
		return
	}

	a.started = true
	endpoints := a.snapshot()
	a.mu.Unlock()

	for _, endpoint := range endpoints {
		endpoint.Start()
	}

	a.logger.Info("application started")
}

// Stop tears down every endpoint, interrupting all live sessions, and
// clears the registry.
func (a *Application) Stop() {
	a.mu.Lock()
	endpoints := a.snapshot()
	a.endpoints = make(map[string]*Endpoint)
	a.started = false
	a.mu.Unlock()

	for _, endpoint := range endpoints {
		endpoint.Stop()
	}

	a.logger.Info("application stopped")
}

// snapshot returns the current endpoints. Caller holds a.mu.
func (a *Application) snapshot() []*Endpoint {
	endpoints := make([]*Endpoint, 0, len(a.endpoints))
	for _, endpoint := range a.endpoints {
		endpoints = append(endpoints, endpoint)
	}

	return endpoints
}
