package lock

import "errors"

var (
	ErrPermissionDenied = errors.New("lock: radio permission denied")
	ErrDeviceNotFound   = errors.New("lock: target device not found")
	ErrConnectFailed    = errors.New("lock: connect failed")
	ErrAuthDenied       = errors.New("lock: authentication denied")
	ErrAuthError        = errors.New("lock: authentication error")
	ErrWriteFailed      = errors.New("lock: write failed")
	// ErrBusy is returned when an operation of the same kind is already in flight.
	ErrBusy = errors.New("lock: operation already in progress")
	// ErrNotConnected is returned by Toggle before a connection is established.
	ErrNotConnected = errors.New("lock: not connected")
)
