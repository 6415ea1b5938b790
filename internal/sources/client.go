package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/httpclient"
)

// Client is the part of httpclient.Transport the plugins use
type Client interface {
	Get(ctx context.Context, src config.SourceConfig, rawURL string, accept string) ([]byte, error)
	PostJSON(ctx context.Context, src config.SourceConfig, rawURL string, payload any) ([]byte, error)
}

var _ Client = (*httpclient.Transport)(nil)

// Accept headers
const (
	AcceptJSON = "application/json"
	AcceptHTML = "text/html,application/xhtml+xml"
	AcceptFeed = "application/rss+xml,application/atom+xml,application/xml;q=0.9,*/*;q=0.8"
)

// ErrorMessage renders a fetch failure for a payload "error" field: "HTTP 503"
// for status failures and the error text otherwise.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if code := httpclient.StatusCode(err); code != 0 {
		return fmt.Sprintf("HTTP %d", code)
	}
	return err.Error()
}

// IsNotFound reports whether err is an HTTP 404
func IsNotFound(err error) bool {
	return httpclient.StatusCode(err) == 404
}

// IsCancelled reports whether err comes from the run being cancelled. Plugins
// that tolerate partial failures still give up on cancellation.
func IsCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// JoinURL joins a base URL and a path without doubling the slash between them
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
