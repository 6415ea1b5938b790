// Package httpclient provides the retrying HTTP transport that every source plugin
// uses for network I/O.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/telemetry"
	"github.com/chinacompass/cc-fetcher/pkg/versions"
)

const (
	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// drainLimit bounds how much of a discarded body is read to reuse the connection
	drainLimit = 64 * 1024
)

// NotifyFunc observes a failed attempt that is about to be retried.
// attempt is 0-indexed and wait is the delay before the next attempt.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Option configures a Transport
type Option func(*Transport)

// WithHTTPClient replaces the underlying client. Its Timeout is ignored in favour
// of the per-attempt timeout passed to Send.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.client = c
	}
}

// WithDomainLimiter sets the per-host limiter shared by all requests
func WithDomainLimiter(l *DomainLimiter) Option {
	return func(t *Transport) {
		t.limiter = l
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		t.userAgent = ua
	}
}

// WithFetchMetrics records retries on the given instruments
func WithFetchMetrics(m *telemetry.FetchMetrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// WithRetryNotify registers an observer for retried attempts
func WithRetryNotify(fn NotifyFunc) Option {
	return func(t *Transport) {
		t.notify = fn
	}
}

// Transport sends requests with bounded exponential-backoff retry.
// It is safe for concurrent use.
type Transport struct {
	client    *http.Client
	limiter   *DomainLimiter
	userAgent string
	metrics   *telemetry.FetchMetrics
	notify    NotifyFunc
}

// New creates a Transport with a default client and domain limiter
func New(opts ...Option) *Transport {
	t := &Transport{
		client:    &http.Client{},
		limiter:   NewDomainLimiter(),
		userAgent: versions.UserAgent(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// policyBackOff yields policy.BackoffFactor * 2^attempt for successive retries
type policyBackOff struct {
	policy  config.RetryPolicy
	attempt int
}

func (b *policyBackOff) NextBackOff() time.Duration {
	d := b.policy.Delay(b.attempt)
	b.attempt++
	return d
}

func (b *policyBackOff) Reset() {
	b.attempt = 0
}

// Send performs req, retrying retryable statuses and transient network faults
// according to policy. timeout bounds each individual attempt, including reading
// the body of the returned response. The caller must close the response body.
func (t *Transport) Send(
	ctx context.Context,
	req *http.Request,
	policy config.RetryPolicy,
	timeout time.Duration,
) (*http.Response, error) {
	if err := checkScheme(req.URL); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	if err := makeReplayable(req); err != nil {
		return nil, err
	}

	rawURL := req.URL.String()
	attempts := 0

	operation := func() (*http.Response, error) {
		attempt := attempts
		attempts++
		return t.attempt(ctx, req, policy, timeout, attempt)
	}

	notify := func(err error, wait time.Duration) {
		attempt := attempts - 1
		slog.WarnContext(ctx, "Request failed, retrying",
			"url", truncate(rawURL, 80),
			"attempt", attempt+1,
			"max_attempts", policy.Attempts(),
			"wait", wait,
			"error", err)
		t.metrics.RecordHTTPRetry(ctx, req.URL.Host, retryReason(err))
		if t.notify != nil {
			t.notify(attempt, err, wait)
		}
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&policyBackOff{policy: policy}),
		backoff.WithMaxTries(uint(policy.Attempts())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return nil, withAttempts(err, attempts)
	}
	return resp, nil
}

// attempt performs a single try. Retryable failures are returned as plain errors,
// everything else is wrapped with backoff.Permanent.
func (t *Transport) attempt(
	ctx context.Context,
	req *http.Request,
	policy config.RetryPolicy,
	timeout time.Duration,
	attempt int,
) (*http.Response, error) {
	rawURL := req.URL.String()

	release, err := t.limiter.Acquire(ctx, rawURL)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	r := req.Clone(attemptCtx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			release()
			return nil, backoff.Permanent(fmt.Errorf("failed to rewind request body: %w", err))
		}
		r.Body = body
	}
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(r)
	if err != nil {
		cancel()
		release()
		// The caller gave up; that is not a transport fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, backoff.Permanent(ctxErr)
		}
		return nil, &NetworkError{URL: rawURL, Timeout: isTimeout(err), Attempts: attempt + 1, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		discard(resp)
		cancel()
		release()
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        rawURL,
			Message:    statusMessage(resp),
			Attempts:   attempt + 1,
		}
		if policy.IsRetryable(resp.StatusCode) {
			return nil, httpErr
		}
		return nil, backoff.Permanent(httpErr)
	}

	resp.Body = &attemptBody{ReadCloser: resp.Body, cancel: cancel, release: release}
	return resp, nil
}

// Get performs a GET with the source's retry policy and timeout and returns the body
func (t *Transport) Get(ctx context.Context, src config.SourceConfig, rawURL string, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := t.Send(ctx, req, src.Retry, src.Timeout)
	if err != nil {
		return nil, err
	}
	return ReadBody(resp)
}

// PostJSON posts payload as JSON with the source's retry policy and timeout and returns the body
func (t *Transport) PostJSON(ctx context.Context, src config.SourceConfig, rawURL string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := t.Send(ctx, req, src.Retry, src.Timeout)
	if err != nil {
		return nil, err
	}
	return ReadBody(resp)
}

// ReadBody reads and closes a response body, enforcing MaxResponseSize
func ReadBody(resp *http.Response) ([]byte, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d bytes", ErrResponseTooLarge, resp.ContentLength, MaxResponseSize)
	}

	// +1 to detect if limit exceeded
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		var netErr net.Error
		timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
		return nil, &NetworkError{URL: requestURL(resp), Timeout: timeout, Attempts: 1, Err: err}
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, MaxResponseSize)
	}
	return body, nil
}

// attemptBody releases the attempt's context and domain slot when the body is closed
type attemptBody struct {
	io.ReadCloser
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

func (b *attemptBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(func() {
		b.cancel()
		b.release()
	})
	return err
}

func checkScheme(u *url.URL) error {
	if u == nil {
		return fmt.Errorf("%w: missing URL", ErrUnsupportedScheme)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("%w %q (only http and https are allowed)", ErrUnsupportedScheme, u.Scheme)
	}
}

// makeReplayable buffers a request body so that every attempt can resend it
func makeReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to buffer request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.ContentLength = int64(len(data))
	return nil
}

func withAttempts(err error, attempts int) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		httpErr.Attempts = attempts
		return err
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		netErr.Attempts = attempts
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func retryReason(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("http_%d", httpErr.StatusCode)
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.Timeout {
		return "timeout"
	}
	return "network"
}

func statusMessage(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}

func requestURL(resp *http.Response) string {
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
