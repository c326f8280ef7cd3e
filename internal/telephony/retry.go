package telephony

import (
	"errors"
	"time"
)

// OpClass groups provider operations that share a retry budget.
type OpClass string

const (
	// OpCreate places calls. Never retried: a retry after an ambiguous failure can dial twice.
	OpCreate OpClass = "create"
	// OpUpdate covers transfer and recording control.
	OpUpdate OpClass = "update"
	OpHangup OpClass = "hangup"
)

// RetryPolicy is the single place that decides how provider operations are retried.
type RetryPolicy struct {
	// MaxRetries per class; classes not listed are not retried.
	MaxRetries map[OpClass]int
	Backoff    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: map[OpClass]int{
			OpCreate: 0,
			OpUpdate: 1,
			OpHangup: 1,
		},
		Backoff: 200 * time.Millisecond,
	}
}

// Attempts returns the total number of tries allowed for class.
func (p RetryPolicy) Attempts(class OpClass) int {
	n := p.MaxRetries[class]
	if n < 0 {
		n = 0
	}
	return n + 1
}

// ShouldRetry reports whether attempt (1-based) may be followed by another try.
func (p RetryPolicy) ShouldRetry(class OpClass, attempt int, err error) bool {
	if attempt >= p.Attempts(class) {
		return false
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}
