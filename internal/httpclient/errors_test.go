package httpclient_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinacompass/cc-fetcher/internal/httpclient"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		statusCode    int
		url           string
		message       string
		expectedError string
	}{
		{
			name:          "not found",
			statusCode:    404,
			url:           "http://example.com",
			message:       "Not Found",
			expectedError: "HTTP 404 for URL http://example.com: Not Found",
		},
		{
			name:          "server error",
			statusCode:    500,
			url:           "http://api.example.com/v1/data",
			message:       "Internal Server Error",
			expectedError: "HTTP 500 for URL http://api.example.com/v1/data: Internal Server Error",
		},
		{
			name:          "empty message",
			statusCode:    404,
			url:           "http://example.com",
			message:       "",
			expectedError: "HTTP 404 for URL http://example.com: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := httpclient.NewHTTPError(tt.statusCode, tt.url, tt.message)
			require.Error(t, err)
			assert.Equal(t, tt.expectedError, err.Error())
			assert.ErrorIs(t, err, httpclient.ErrHTTP)
			assert.NotErrorIs(t, err, httpclient.ErrNetwork)
			assert.Equal(t, tt.statusCode, httpclient.StatusCode(err))
		})
	}
}

func TestStatusCodeThroughWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("fetching bills: %w", httpclient.NewHTTPError(503, "http://example.com", "Service Unavailable"))
	assert.Equal(t, 503, httpclient.StatusCode(wrapped))
	assert.Equal(t, 0, httpclient.StatusCode(errors.New("plain")))
	assert.Equal(t, 0, httpclient.StatusCode(nil))
}

func TestNetworkError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *httpclient.NetworkError
		expected string
	}{
		{
			name:     "connection failure",
			err:      &httpclient.NetworkError{URL: "http://example.com", Attempts: 3, Err: errors.New("connection refused")},
			expected: "network error for URL http://example.com after 3 attempt(s): connection refused",
		},
		{
			name:     "timeout",
			err:      &httpclient.NetworkError{URL: "http://example.com", Timeout: true, Attempts: 1, Err: context.DeadlineExceeded},
			expected: "timeout for URL http://example.com after 1 attempt(s): context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, tt.err.Error())
			assert.ErrorIs(t, tt.err, httpclient.ErrNetwork)
			assert.NotErrorIs(t, tt.err, httpclient.ErrHTTP)
			assert.ErrorIs(t, tt.err, tt.err.Err)
			assert.Equal(t, 0, httpclient.StatusCode(tt.err))
		})
	}
}
