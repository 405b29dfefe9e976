package wsclient

// Delegate observes a Client. Calls are made one at a time on a dedicated
// goroutine in the order the events happened, so a slow delegate delays
// later notifications but never the connection itself. A delegate must not
// call Client.Close.
type Delegate interface {
	StateChanged(state ConnectionState)
	TextReceived(text string)
	BinaryReceived(data []byte)
}

// DelegateFuncs adapts plain functions to a Delegate. Nil fields are skipped.
type DelegateFuncs struct {
	OnStateChange func(state ConnectionState)
	OnText        func(text string)
	OnBinary      func(data []byte)
}

func (d DelegateFuncs) StateChanged(state ConnectionState) {
	if d.OnStateChange != nil {
		d.OnStateChange(state)
	}
}

func (d DelegateFuncs) TextReceived(text string) {
	if d.OnText != nil {
		d.OnText(text)
	}
}

func (d DelegateFuncs) BinaryReceived(data []byte) {
	if d.OnBinary != nil {
		d.OnBinary(data)
	}
}
