package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a dispatch failure.
type Kind string

const (
	// KindRateLimited never leaves the dispatcher on its own; a rate limit is
	// either retried on another credential or folded into KindCapacityExhausted.
	KindRateLimited       Kind = "rate_limited"
	KindProviderError     Kind = "provider_error"
	KindCapacityExhausted Kind = "capacity_exhausted"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
	KindInvalidRequest    Kind = "invalid_request"
	KindInternal          Kind = "internal"
)

// Error is returned by Dispatch for every failure.
type Error struct {
	Kind     Kind
	Provider string
	// Attempts is the number of outbound calls made. A call the open breaker
	// rejected is not counted.
	Attempts int
	// RetryAfter hints when capacity should return. Only set for
	// KindCapacityExhausted.
	RetryAfter time.Duration
	// StatusCode is the upstream HTTP status for KindProviderError, if any.
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind, so errors.Is(err, ErrCapacityExhausted) works for any
// provider or attempt count.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrProviderError     = &Error{Kind: KindProviderError}
	ErrCapacityExhausted = &Error{Kind: KindCapacityExhausted}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrInternal          = &Error{Kind: KindInternal}
)

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}
