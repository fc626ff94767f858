// Package retry holds the backoff policy shared by the HTTP layer and the
// coarser operation-level retry loops.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

const DefaultCap = 300 * time.Second

var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// Policy computes backoff delays. The zero Rand uses the global source.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	Rand        *rand.Rand
}

func NewPolicy(base time.Duration, maxAttempts int) Policy {
	return Policy{Base: base, Cap: DefaultCap, MaxAttempts: maxAttempts}
}

// Delay returns min(Cap, Base*2^attempt) scaled by a jitter factor in [0.5, 1.5).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	limit := p.Cap
	if limit <= 0 {
		limit = DefaultCap
	}
	var wait time.Duration
	if p.Base > 0 {
		wait = limit
		if scaled := float64(p.Base) * math.Pow(2, float64(attempt)); scaled < float64(limit) {
			wait = time.Duration(scaled)
		}
	}
	return time.Duration(float64(wait) * (0.5 + p.float()))
}

func (p Policy) float() float64 {
	if p.Rand != nil {
		return p.Rand.Float64()
	}
	return rand.Float64()
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func RetryableStatus(code int) bool {
	_, ok := retryableStatuses[code]
	return ok
}

// RetryableError reports whether err is a transport-level failure worth
// another attempt. Cancellation and malformed requests are not.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		msg := urlErr.Err.Error()
		if strings.Contains(msg, "unsupported protocol scheme") || strings.Contains(msg, "invalid URL") {
			return false
		}
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
