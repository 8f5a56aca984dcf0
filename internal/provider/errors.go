package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTokenExpired is returned when the provider answers 401 Unauthorized.
var ErrTokenExpired = errors.New("provider access token expired")

// ErrInvalidFetchParams is returned when FetchParams sets neither or both tokens.
var ErrInvalidFetchParams = errors.New("exactly one of delta token and page token must be set")

// HTTPError carries a non-2xx, non-401 provider response for caller-level classification.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether the failure is worth retrying on a later pass.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsTransient reports whether err is a provider failure that a later attempt may not hit:
// 5xx and 429 responses, network errors and timeouts. Token expiry, rejected requests,
// undecodable responses and local failures are not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrTokenExpired) || errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// *url.Error from http.Client.Do implements net.Error.
	var netErr net.Error
	return errors.As(err, &netErr)
}
