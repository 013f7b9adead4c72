package minisocket

import "errors"

// Error codes at the socket boundary (spec.md §6).
var (
	ErrInvalidParams    = errors.New("minisocket: invalid params")
	ErrPortInUse        = errors.New("minisocket: port in use")
	ErrNoMoreSockets    = errors.New("minisocket: no free client port")
	ErrReceiveError     = errors.New("minisocket: receive error")
	ErrSendError        = errors.New("minisocket: send error")
	ErrConnectionClosed = errors.New("minisocket: connection closed")
	ErrTimeout          = errors.New("minisocket: timeout")
)
