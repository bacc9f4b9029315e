package efd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"filingwatch/internal/domain"
)

// Error is a classified source failure. A legitimate empty result is never
// an Error; callers distinguish "no data" from failure by the absence of an
// error, not by inspecting one.
type Error struct {
	Kind   domain.ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind satisfies the classification interface the detect service uses
// to record item failures without importing this package.
func (e *Error) ErrorKind() domain.ErrorKind {
	return e.Kind
}

// KindOf extracts the error kind from a classified error. Unclassified
// errors are reported as network failures so they stay retryable.
func KindOf(err error) domain.ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return domain.ErrorKindNetwork
}

func classifyTransport(err error) *Error {
	kind := domain.ErrorKindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = domain.ErrorKindTimeout
	}
	return &Error{Kind: kind, Err: err}
}

func classifyStatus(status int) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: domain.ErrorKindRateLimit, Status: status, Err: errors.New("rate limited")}
	default:
		return &Error{Kind: domain.ErrorKindServer, Status: status, Err: errors.New("unexpected status")}
	}
}
