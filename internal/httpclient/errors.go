package httpclient

import (
	"errors"
	"fmt"
)

var (
	// ErrHTTP is matched by transport failures caused by an HTTP status
	ErrHTTP = errors.New("http error")

	// ErrNetwork is matched by transport failures caused by the network or a timeout
	ErrNetwork = errors.New("network error")

	// ErrUnsupportedScheme is returned for URLs that are not http or https
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize
	ErrResponseTooLarge = errors.New("response too large")
)

// HTTPError represents a non-retryable status, or a retryable one that
// persisted after every retry
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
	Attempts   int
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// Is matches ErrHTTP
func (*HTTPError) Is(target error) bool {
	return target == ErrHTTP
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// NetworkError represents a connection failure or an attempt timeout that
// persisted after every retry
type NetworkError struct {
	URL      string
	Timeout  bool
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	kind := "network error"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("%s for URL %s after %d attempt(s): %v", kind, e.URL, e.Attempts, e.Err)
}

// Is matches ErrNetwork
func (*NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
