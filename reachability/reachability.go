// Package reachability defines the network reachability events consumed by
// the connection supervisor, and a Monitor that platform integrations feed.
//
// Detecting reachability is left to the host application: it calls
// Monitor.Update whenever the operating system reports a change.
package reachability

import (
	"sync"
)

// ConnectionType identifies the network path in use.
type ConnectionType int

const (
	TypeUnknown ConnectionType = iota
	TypeWiFi
	TypeCellular
	TypeEthernet
)

func (t ConnectionType) String() string {
	switch t {
	case TypeWiFi:
		return "wifi"
	case TypeCellular:
		return "cellular"
	case TypeEthernet:
		return "ethernet"
	default:
		return "unknown"
	}
}

// Handler receives reachability events. Either field may be nil.
type Handler struct {
	// OnChange is called when reachability flips.
	OnChange func(reachable bool)

	// OnTypeChange is called when the connection type changes while the
	// network stays reachable. Sockets bound to the old path are stale.
	OnTypeChange func(t ConnectionType)
}

// Source is a stream of reachability events.
type Source interface {
	Reachable() bool
	Subscribe(h Handler) (cancel func())
}

// Monitor is a Source whose state is set by the caller.
type Monitor struct {
	mu        sync.Mutex
	reachable bool
	typ       ConnectionType
	next      int
	handlers  map[int]Handler
}

// NewMonitor returns a Monitor with the given initial state.
func NewMonitor(reachable bool, t ConnectionType) *Monitor {
	return &Monitor{
		reachable: reachable,
		typ:       t,
		handlers:  make(map[int]Handler),
	}
}

// Reachable reports the current reachability.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Type reports the current connection type.
func (m *Monitor) Type() ConnectionType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typ
}

// Subscribe registers h and returns a function that removes it.
func (m *Monitor) Subscribe(h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++
	m.handlers[id] = h

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

// Update records a new state and notifies subscribers synchronously.
// A reachability flip emits OnChange. A type change while reachable before
// and after emits OnTypeChange.
func (m *Monitor) Update(reachable bool, t ConnectionType) {
	m.mu.Lock()
	changed := reachable != m.reachable
	typeChanged := !changed && reachable && t != m.typ
	m.reachable = reachable
	m.typ = t
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		switch {
		case changed && h.OnChange != nil:
			h.OnChange(reachable)
		case typeChanged && h.OnTypeChange != nil:
			h.OnTypeChange(t)
		}
	}
}

// SetReachable updates reachability and keeps the connection type.
func (m *Monitor) SetReachable(reachable bool) {
	m.Update(reachable, m.Type())
}
