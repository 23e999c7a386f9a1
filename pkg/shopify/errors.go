package shopify

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultRetryAfter = 2 * time.Second

// ErrUnknownShop is returned when no access token is configured for a shop.
var ErrUnknownShop = errors.New("no access token configured for shop")

// RateLimitError reports a 429 from the Admin API.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("shopify rate limited; retry after %s", e.RetryAfter)
}

// APIError is any other non-2xx answer.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify status %d: %s", e.StatusCode, e.Body)
}

// Terminal reports whether repeating the request cannot succeed.
func (e *APIError) Terminal() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusLocked, http.StatusTooManyRequests:
		return false
	}
	return true
}

// AsRateLimit extracts the retry-after hint when err is a rate-limit signal.
func AsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsTerminal reports whether err should stop further attempts.
func IsTerminal(err error) bool {
	if errors.Is(err, ErrUnknownShop) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Terminal()
	}
	return false
}

// IsNotFound reports whether the remote resource no longer exists.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
