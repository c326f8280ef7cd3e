package dialer

import "errors"

var (
	ErrNotFound        = errors.New("dialer: not found")
	ErrUnknownCampaign = errors.New("dialer: unknown campaign")
	ErrInvalidArgument = errors.New("dialer: invalid argument")
	ErrVersionConflict = errors.New("dialer: version conflict")
)
