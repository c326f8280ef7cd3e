package agents

import "errors"

var (
	ErrNotFound        = errors.New("agents: not found")
	ErrInvalidArgument = errors.New("agents: invalid argument")
	// ErrConflict is returned when a status change would orphan the agent's current call.
	ErrConflict = errors.New("agents: agent has an active call")
	// ErrNotAvailable is returned by Reserve when the agent was claimed or left rotation.
	ErrNotAvailable    = errors.New("agents: agent not available")
	ErrVersionConflict = errors.New("agents: version conflict")
)
