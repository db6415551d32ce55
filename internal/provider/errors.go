package provider

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind classifies why a fetch failed.
type Kind string

const (
	KindQuotaExhausted Kind = "QuotaExhausted"
	KindTimeout        Kind = "Timeout"
	KindRateLimited    Kind = "RateLimited"
	KindUnavailable    Kind = "Unavailable"
	KindMalformed      Kind = "Malformed"
)

// Retryable reports whether a later attempt may succeed. Malformed responses
// and an exhausted quota will not improve within the same cycle.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindUnavailable
}

// Error is the classified failure returned by Adapter.Fetch and the clients.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int           // HTTP status when one was received
	RetryAfter time.Duration // from a Retry-After header, if any
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// classifyTransport maps an http.Client.Do failure to a Kind.
func classifyTransport(provider string, err error) *Error {
	kind := KindUnavailable
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}
