// Command echo-server runs the development server used against the SockJS
// protocol compliance suite: an echo endpoint plus the close, cookie and
// disabled-websocket fixtures the suite expects.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/FreePeak/golang-sockjs-server-sdk/pkg/sockjs"
)

// testResponseLimit keeps streaming responses short so the compliance suite
// can exercise reconnects quickly.
const testResponseLimit = 4096 + 128

func main() {
	addr := flag.String("addr", "127.0.0.1:8081", "listen address")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	logConfig := sockjs.LoggerConfig{
		Level:       "info",
		OutputPaths: []string{"stdout"},
	}
	if *verbose {
		logConfig.Level = "debug"
		logConfig.Development = true
	}

	logger, err := sockjs.NewLogger(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	app := sockjs.NewApplication(sockjs.Options{
		ResponseLimit: testResponseLimit,
		SessionTTL:    5 * time.Second,
	}, logger)

	echoFactory := func() sockjs.Handler {
		return sockjs.HandlerFuncs{
			OnMessageFunc: func(conn *sockjs.Connection, message interface{}) {
				conn.Send(message)
			},
		}
	}

	closeFactory := func() sockjs.Handler {
		return sockjs.HandlerFuncs{
			OnOpenFunc: func(conn *sockjs.Connection) {
				conn.Close()
			},
		}
	}

	endpoints := map[string]*sockjs.Endpoint{
		"echo":              sockjs.NewEndpoint(echoFactory, sockjs.Options{}),
		"close":             sockjs.NewEndpoint(closeFactory, sockjs.Options{}),
		"cookie_needed_echo": sockjs.NewEndpoint(echoFactory, sockjs.Options{UseCookie: true}),
		"disabled_websocket_echo": sockjs.NewEndpoint(echoFactory, sockjs.Options{
			DisabledTransports: []string{"websocket"},
		}),
	}

	for name, endpoint := range endpoints {
		if err := app.AddEndpoint(name, endpoint); err != nil {
			logger.Errorf("add endpoint %s: %v", name, err)
			os.Exit(1)
		}
	}

	app.Start()
	defer app.Stop()

	logger.Infof("listening on %s", *addr)

	if err := http.ListenAndServe(*addr, sockjs.NewRouter(app, logger)); err != nil {
		logger.Errorf("serve: %v", err)
		os.Exit(1)
	}
}
