package link

import "errors"

var (
	// ErrDriverInit is fatal: the radio rejected its parameters.
	ErrDriverInit = errors.New("radio init failed")
	// ErrDriverOperation reports a scan, receive or transmit that did not start.
	ErrDriverOperation = errors.New("radio operation failed")
	// ErrFrameTimeout reports a receive or transmit abandoned on timeout.
	ErrFrameTimeout = errors.New("operation timed out")
	ErrUnauthorized = errors.New("bad admin token")
	ErrUnknownMode  = errors.New("unknown mode")
	ErrBadState     = errors.New("bad state")
)
