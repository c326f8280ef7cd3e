package control

import "errors"

var (
	ErrInvalidArgument = errors.New("control: invalid argument")
	// ErrNotAssigned is returned when an agent acts on a call it does not hold.
	ErrNotAssigned = errors.New("control: call is not assigned to this agent")
	// ErrConsentRequired means recording was refused; the call itself carries on.
	ErrConsentRequired = errors.New("control: recording consent required")
)
