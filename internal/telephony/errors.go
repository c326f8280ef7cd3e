package telephony

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures for callers and for the call record.
type ErrorKind string

const (
	KindInvalidNumber ErrorKind = "invalid_number"
	KindRateLimited   ErrorKind = "rate_limited"
	KindAuthFailure   ErrorKind = "auth_failure"
	KindTimeout       ErrorKind = "timeout"
	KindNotFound      ErrorKind = "not_found"
	KindUnknown       ErrorKind = "unknown"
)

// ProviderError is returned by every Adapter operation that fails.
type ProviderError struct {
	Kind ErrorKind
	Op   string
	// Code is the vendor error code when one was returned.
	Code int
	Err  error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("telephony: %s: %s", e.Op, e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether a retry can succeed without operator action.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindUnknown
}

// KindOf returns the kind of a ProviderError in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries a ProviderError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == k
}

// FailureReason is the call failure reason recorded when placing a call fails with err.
func FailureReason(err error) string {
	switch KindOf(err) {
	case KindTimeout:
		return "provider_timeout"
	case KindInvalidNumber:
		return "invalid_number"
	default:
		return "provider_failed"
	}
}
