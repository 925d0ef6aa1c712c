// Package provider holds types shared by the remote inference clients:
// speech-to-text, chat completion and speech synthesis. Each client lives in
// its own subpackage; this package defines the error shape the retry layer
// classifies.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// StatusError reports a non-2xx HTTP response from a provider. Body holds a
// truncated response snippet for logging.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.Code, e.Body)
}

// Temporary reports whether the status indicates a transient server-side
// condition worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == 429
}

// maxBodySnippet bounds how much of an error response body is kept.
const maxBodySnippet = 256

// NewStatusError builds a StatusError, truncating the body snippet.
func NewStatusError(service string, code int, body []byte) *StatusError {
	snippet := string(body)
	if len(snippet) > maxBodySnippet {
		snippet = snippet[:maxBodySnippet]
	}
	return &StatusError{Service: service, Code: code, Body: snippet}
}

// IsRetryable classifies an error for the retry layer: 5xx and 429 statuses,
// timeouts and connection-level failures retry; 4xx client errors and
// context cancellation do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	// Errors from http.Client.Do that aren't status errors are transport
	// failures (connection reset, broken pipe, DNS).
	var oe *net.OpError
	return errors.As(err, &oe)
}
