package gateway

import (
	"math"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/renewdesk/renewctl/internal/apierr"
)

// BackoffFunc returns the delay before retry n (1-based).
type BackoffFunc func(n int) time.Duration

// ExponentialBackoff waits base^n units before retry n.
func ExponentialBackoff(base float64, unit time.Duration) BackoffFunc {
	return func(n int) time.Duration {
		return time.Duration(math.Pow(base, float64(n)) * float64(unit))
	}
}

// RetryPolicy is the cross-cutting request policy. Treat it as immutable
// once handed to a Gateway.
type RetryPolicy struct {
	// RetryCount is the number of retries after the first attempt.
	RetryCount int
	// Timeout bounds every single attempt.
	Timeout time.Duration
	// RetryableStatuses lists HTTP statuses worth retrying. Failures without
	// a response (network errors, timeouts) are always retryable.
	RetryableStatuses []int
	Backoff           BackoffFunc
	// Jitter adds up to this much random delay to each backoff.
	Jitter time.Duration
	// ExcludedURLs are URL substrings that skip decoration, dedup, retry
	// and forced logout.
	ExcludedURLs []string
}

// DefaultRetryPolicy returns the policy used by the CLI.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryCount: 2,
		Timeout:    30 * time.Second,
		RetryableStatuses: []int{
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
		Backoff: ExponentialBackoff(2, time.Second),
		ExcludedURLs: []string{
			"/api/auth/login",
			"/api/auth/refresh",
			"/api/country-list",
		},
	}
}

// Excluded reports whether url matches an excluded substring.
func (p RetryPolicy) Excluded(url string) bool {
	for _, sub := range p.ExcludedURLs {
		if sub != "" && strings.Contains(url, sub) {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether a failed attempt may be retried.
func (p RetryPolicy) ShouldRetry(e *apierr.EnhancedError) bool {
	if e == nil {
		return false
	}
	if e.Status == 0 {
		return e.Retryable()
	}
	return slices.Contains(p.RetryableStatuses, e.Status)
}

// Delay returns the wait before retry n.
func (p RetryPolicy) Delay(n int) time.Duration {
	var d time.Duration
	if p.Backoff != nil {
		d = p.Backoff(n)
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.Jitter))) //nolint:gosec // G404: jitter doesn't need crypto rand
	}
	return d
}
