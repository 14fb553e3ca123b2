package server

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
	"github.com/segmentio/encoding/json"
)

func newTestRouter(t *testing.T) (*Router, *Application) {
	t.Helper()

	app := newTestApplication()
	require.NoError(t, app.AddEndpoint("echo", NewEndpoint(echoFactory, Options{})))
	app.Start()
	t.Cleanup(app.Stop)

	return NewRouter(app, logging.NewNop()), app
}

func doRequest(rt *Router, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, r)

	return w
}

func TestRouterGreeting(t *testing.T) {
	rt, _ := newTestRouter(t)

	for _, path := range []string{"/", "/echo", "/echo/"} {
		t.Run(path, func(t *testing.T) {
			w := doRequest(rt, http.MethodGet, path, nil)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "Welcome to SockJS!\n", w.Body.String())
		})
	}

	t.Run("Cacheable", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo", nil)

		assert.Contains(t, w.Header().Get("Cache-Control"), "public")
		assert.NotEmpty(t, w.Header().Get("Expires"))
	})
}

func TestRouterGrammar(t *testing.T) {
	rt, _ := newTestRouter(t)

	notFound := []string{
		"/unknown_endpoint/abc/xyz/xhr",
		"/echo//",
		"/echo/info//",
		"/echo/info/extra",
		"/echo/iframe",
		"/echo/iframe.htm",
		"/echo/iframeXHTML.html",
		"/echo/bar.",
		"/echo/bar/baz.",
		"/echo/abc/xyz/unknown_transport",
		"/echo/abc/xyz/xhr/extra",
		"/echo/abc.def/xyz/xhr",
		"/echo/abc/x.z/xhr",
		"/echo/abc/xyz",
	}

	for _, path := range notFound {
		t.Run(path, func(t *testing.T) {
			w := doRequest(rt, http.MethodGet, path, nil)

			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}

	t.Run("UnknownEndpointNamed", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/nope", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), `Unknown endpoint "nope"`)
	})

	t.Run("MethodMismatch", func(t *testing.T) {
		// xhr is POST-only
		w := doRequest(rt, http.MethodGet, "/echo/abc/xyz/xhr", nil)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.Contains(t, w.Header().Get("Allow"), "POST")
	})

	t.Run("Preflight", func(t *testing.T) {
		w := doRequest(rt, http.MethodOptions, "/echo/abc/xyz/xhr", map[string]string{
			"Origin": "http://example.com",
		})

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})
}

func TestRouterInfo(t *testing.T) {
	rt, _ := newTestRouter(t)

	t.Run("Fields", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo/info", nil)

		require.Equal(t, http.StatusOK, w.Code)

		var info map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

		assert.Equal(t, false, info["cookie_needed"])
		assert.Equal(t, true, info["websocket"])
		assert.Equal(t, []interface{}{"*:*"}, info["origins"])
		assert.Contains(t, info, "entropy")
		assert.Equal(t, 25.0, info["server_heartbeat_interval"])
	})

	t.Run("TrailingSlash", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo/info/", nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("NotCacheable", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo/info", nil)

		assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", w.Header().Get("Cache-Control"))
	})

	t.Run("CORS", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo/info", map[string]string{
			"Origin": "http://example.com",
		})

		assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("NullOriginFallsBack", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo/info", map[string]string{
			"Origin": "null",
		})

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("EntropyInRange", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo/info", nil)

		var info struct {
			Entropy int64 `json:"entropy"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

		assert.GreaterOrEqual(t, info.Entropy, int64(1))
		assert.Less(t, info.Entropy, int64(1)<<32)
	})
}

func TestRouterIframe(t *testing.T) {
	rt, _ := newTestRouter(t)

	expected := fmt.Sprintf(iframeTemplate, DefaultClientURL)
	digest := md5.Sum([]byte(expected))
	etag := hex.EncodeToString(digest[:])

	for _, path := range []string{
		"/echo/iframe.html",
		"/echo/iframe-0.1.2.html",
		"/echo/iframe-abc_d.html",
	} {
		t.Run(path, func(t *testing.T) {
			w := doRequest(rt, http.MethodGet, path, nil)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, etag, w.Header().Get("ETag"))
			assert.Contains(t, w.Body.String(), DefaultClientURL)
			assert.Contains(t, w.Body.String(), "SockJS.bootstrap_iframe()")
			assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
		})
	}

	t.Run("NotModified", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo/iframe.html", map[string]string{
			"If-None-Match": etag,
		})

		assert.Equal(t, http.StatusNotModified, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("StaleETagServesBody", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo/iframe.html", map[string]string{
			"If-None-Match": "stale",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Body.String())
	})

	t.Run("Cacheable", func(t *testing.T) {
		w := doRequest(rt, http.MethodGet, "/echo/iframe.html", nil)

		assert.Contains(t, w.Header().Get("Cache-Control"), "public")
	})
}
