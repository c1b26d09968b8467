package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultThrottleCooldown applies when a provider throttles without saying
// for how long.
const DefaultThrottleCooldown = 15 * time.Minute

// ThrottledError signals that a provider refused the call for rate reasons.
// It is never retried in place; the caller sets a cooldown instead.
type ThrottledError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s throttled (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
}

func (e *ThrottledError) Unwrap() error {
	return e.Err
}

// Cooldown returns RetryAfter, or the default when the provider gave none.
func (e *ThrottledError) Cooldown() time.Duration {
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	return DefaultThrottleCooldown
}

// AsThrottled finds a ThrottledError in err's chain.
func AsThrottled(err error) (*ThrottledError, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// TransientError wraps a failure that may succeed on retry (timeouts, 5xx).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err is worth retrying. Throttling is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := AsThrottled(err); ok {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether a status is a retryable server-side
// failure. 429 is throttling, not transient.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// FromStatus classifies a non-success HTTP response from provider. 429
// becomes a ThrottledError honouring Retry-After, retryable statuses become
// TransientError, anything else is returned as a plain error.
func FromStatus(provider string, statusCode int, retryAfter string, body string) error {
	base := fmt.Errorf("%s: unexpected status %d: %s", provider, statusCode, truncate(body, 200))
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &ThrottledError{Provider: provider, RetryAfter: ParseRetryAfter(retryAfter, time.Now()), Err: base}
	case IsTransientHTTPStatus(statusCode):
		return NewTransientError(base, statusCode)
	default:
		return base
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns 0 when the header is absent or unparseable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
