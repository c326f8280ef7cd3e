package calls

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("calls: not found")
	ErrVersionConflict       = errors.New("calls: version conflict")
	ErrDuplicateProviderCall = errors.New("calls: provider call id already bound")
	ErrInvalidArgument       = errors.New("calls: invalid argument")
)

// StateError reports a transition request outside the call state graph.
// Stored state is left unchanged whenever a StateError is returned.
type StateError struct {
	CallID string
	From   Status
	Event  EventType
	Detail string
}

func (e *StateError) Error() string {
	msg := fmt.Sprintf("calls: %s not allowed in status %s (call %s)", e.Event, e.From, e.CallID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// IsStateError reports whether err is or wraps a *StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
