package wsclient

import (
	"errors"
)

// Errors returned by the wsclient package.
var (
	ErrNotConnected    = errors.New("wsclient: not connected")
	ErrStillConnecting = errors.New("wsclient: still connecting")
	ErrClientClosed    = errors.New("wsclient: client closed")
	ErrInvalidConfig   = errors.New("wsclient: invalid config")
)

// NotConnectedError is returned by the send methods when the client is not
// Connected. It matches ErrStillConnecting while connecting and
// ErrNotConnected otherwise.
type NotConnectedError struct {
	State ConnectionState
}

func (e *NotConnectedError) Error() string {
	return e.Unwrap().Error() + " (" + e.State.String() + ")"
}

func (e *NotConnectedError) Unwrap() error {
	if e.State.Status == StatusConnecting {
		return ErrStillConnecting
	}
	return ErrNotConnected
}

// Temporary reports whether the connection is expected to come back without
// intervention: the client is connecting, or was disconnected because the
// application went to the background. Other disconnects need an external
// trigger such as reachability being restored or an explicit Start.
func (e *NotConnectedError) Temporary() bool {
	switch e.State.Status {
	case StatusConnecting:
		return true
	case StatusDisconnected:
		return e.State.Reason == ReasonAppBackgrounded
	case StatusConnected:
		return false
	}
	return false
}

// IsTemporary reports whether err is a temporary NotConnectedError.
func IsTemporary(err error) bool {
	var nc *NotConnectedError
	return errors.As(err, &nc) && nc.Temporary()
}
