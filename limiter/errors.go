package limiter

import (
	"errors"
	"fmt"
)

// ErrRateLimitExceeded is the sentinel behind every window-limit
// rejection. Use errors.As with *LimitError for the scope.
var ErrRateLimitExceeded = errors.New("limiter: rate limit exceeded")

// ErrConcurrencyLimitExceeded is returned when a domain already has the
// maximum number of in-flight requests.
var ErrConcurrencyLimitExceeded = errors.New("limiter: concurrency limit exceeded")

// ErrInvalidParameters indicates a missing user id or domain.
var ErrInvalidParameters = errors.New("limiter: invalid parameters")

// LimitError reports which gate rejected the request. It unwraps to
// ErrRateLimitExceeded so errors.Is keeps working.
type LimitError struct {
	Scope   string // ScopeUser or ScopeDomain
	Subject string // the user id or domain that hit its limit
	Limit   int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limiter: %s rate limit exceeded for %s (limit %d)", e.Scope, e.Subject, e.Limit)
}

func (e *LimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// ConcurrencyError reports which domain's concurrency cap rejected the
// request. It unwraps to ErrConcurrencyLimitExceeded.
type ConcurrencyError struct {
	Domain string
	Limit  int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("limiter: concurrency limit exceeded for domain %s (limit %d)", e.Domain, e.Limit)
}

func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyLimitExceeded
}
