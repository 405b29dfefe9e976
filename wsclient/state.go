package wsclient

import (
	"fmt"
)

// Status is the variant of a ConnectionState.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		panic(fmt.Sprintf("wsclient: unknown status %d", int(s)))
	}
}

// Reason explains a disconnected state.
type Reason int

const (
	ReasonNotStarted Reason = iota
	ReasonNetworkNotReachable
	ReasonAppBackgrounded
	ReasonUnexpectedServerError
	ReasonTransportError
)

func (r Reason) String() string {
	switch r {
	case ReasonNotStarted:
		return "not started"
	case ReasonNetworkNotReachable:
		return "network not reachable"
	case ReasonAppBackgrounded:
		return "app backgrounded"
	case ReasonUnexpectedServerError:
		return "unexpected server error"
	case ReasonTransportError:
		return "transport error"
	default:
		panic(fmt.Sprintf("wsclient: unknown reason %d", int(r)))
	}
}

// ConnectionState is one of Disconnected(reason), Connecting or Connected.
// Reason and Err are meaningful only for StatusDisconnected; Err carries the
// detail of ReasonTransportError.
type ConnectionState struct {
	Status Status
	Reason Reason
	Err    error
}

// Disconnected returns the disconnected state with reason.
func Disconnected(reason Reason) ConnectionState {
	return ConnectionState{Status: StatusDisconnected, Reason: reason}
}

// TransportFailure returns Disconnected(TransportError) carrying err.
func TransportFailure(err error) ConnectionState {
	return ConnectionState{Status: StatusDisconnected, Reason: ReasonTransportError, Err: err}
}

// Connecting returns the connecting state.
func Connecting() ConnectionState {
	return ConnectionState{Status: StatusConnecting}
}

// Connected returns the connected state.
func Connected() ConnectionState {
	return ConnectionState{Status: StatusConnected}
}

// IsConnected reports whether s is Connected.
func (s ConnectionState) IsConnected() bool {
	return s.Status == StatusConnected
}

func (s ConnectionState) String() string {
	switch s.Status {
	case StatusDisconnected:
		if s.Reason == ReasonTransportError && s.Err != nil {
			return "disconnected(" + s.Reason.String() + ": " + s.Err.Error() + ")"
		}
		return "disconnected(" + s.Reason.String() + ")"
	case StatusConnecting, StatusConnected:
		return s.Status.String()
	default:
		panic(fmt.Sprintf("wsclient: unknown status %d", int(s.Status)))
	}
}

// Equal compares variants and reasons; transport error details are ignored.
func (s ConnectionState) Equal(o ConnectionState) bool {
	if s.Status != o.Status {
		return false
	}
	return s.Status != StatusDisconnected || s.Reason == o.Reason
}
