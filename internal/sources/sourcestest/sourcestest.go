// Package sourcestest provides helpers for testing source plugins against
// httptest servers.
package sourcestest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/httpclient"
)

// Transport returns a transport for tests
func Transport() *httpclient.Transport {
	return httpclient.New(httpclient.WithUserAgent("cc-fetcher/test"))
}

// Config returns a source configuration that retries once with no real delay
func Config(name string, settings map[string]any) config.SourceConfig {
	return config.DefaultSourceConfig(name).
		WithTimeout(5 * time.Second).
		WithRetry(config.NewRetryPolicy(1, 0.001)).
		WithSettings(settings)
}

// Server starts an httptest server that is closed when the test ends
func Server(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// JSON writes body as an application/json response
func JSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}
