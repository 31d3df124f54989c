package transfer

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"autopost/internal/platform"
)

// RetryPolicy bounds the retry loop around the byte-transfer step.
//
// Delays is an ordered schedule; attempts beyond its length reuse the last
// value. Non-transient errors abort immediately regardless of attempts left.
type RetryPolicy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// DefaultRetryPolicy mirrors the deployment defaults: three attempts spaced
// 30s/90s/180s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delays:      []time.Duration{30 * time.Second, 90 * time.Second, 180 * time.Second},
	}
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 3
}

// delayFor returns the sleep before retrying after the given 1-based attempt.
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	delays := p.Delays
	if len(delays) == 0 {
		delays = DefaultRetryPolicy().Delays
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

// Transient classifies an error as retriable: rate limiting (429), server
// errors (5xx), network timeouts/resets, or a response the platform itself
// flags as retriable. Everything else (permission, malformed request, other
// 4xx) is terminal.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *platform.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Retriable {
			return true
		}
		if apiErr.StatusCode == 429 {
			return true
		}
		return apiErr.StatusCode >= 500 && apiErr.StatusCode <= 599
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}
