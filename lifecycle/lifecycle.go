// Package lifecycle tracks application background sessions and tells
// subscribers when the application returns to the foreground after a
// background session that was not gracefully suspended.
//
// The process-wide observer is explicit state: Init creates it, Default
// returns it and Teardown drops every subscription.
package lifecycle

import (
	"sync"
)

// Source delivers foreground-after-expiry events.
type Source interface {
	SubscribeForeground(fn func()) (cancel func())
}

type phase int

const (
	phaseForeground phase = iota
	phaseBackground
	phaseExpired
)

// Observer records background sessions and fans foreground events out to
// its subscribers.
type Observer struct {
	mu     sync.Mutex
	phase  phase
	next   int
	subs   map[int]func()
	closed bool
}

// NewObserver returns an Observer in the foreground phase.
func NewObserver() *Observer {
	return &Observer{subs: make(map[int]func())}
}

// SubscribeForeground registers fn and returns a function that removes it.
// Subscribing to a closed observer returns a no-op cancel.
func (o *Observer) SubscribeForeground(fn func()) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return func() {}
	}

	id := o.next
	o.next++
	o.subs[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// Subscribers returns the number of registered subscribers.
func (o *Observer) Subscribers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}

// EnterBackground starts a background session.
func (o *Observer) EnterBackground() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase == phaseForeground {
		o.phase = phaseBackground
	}
}

// BackgroundExpired marks the current background session as expired: the
// system suspended the application before it finished its background work.
func (o *Observer) BackgroundExpired() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase == phaseBackground {
		o.phase = phaseExpired
	}
}

// EnterForeground ends the background session. Subscribers are notified
// synchronously only if the session expired.
func (o *Observer) EnterForeground() {
	o.mu.Lock()
	expired := o.phase == phaseExpired
	o.phase = phaseForeground
	var subs []func()
	if expired && !o.closed {
		subs = make([]func(), 0, len(o.subs))
		for _, fn := range o.subs {
			subs = append(subs, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// Close drops all subscriptions; later events are ignored.
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	clear(o.subs)
}

var (
	defaultMu       sync.Mutex
	defaultObserver *Observer
)

// Init creates the process-wide observer if it does not exist and returns it.
func Init() *Observer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultObserver == nil {
		defaultObserver = NewObserver()
	}
	return defaultObserver
}

// Default returns the process-wide observer, or nil before Init.
func Default() *Observer {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultObserver
}

// Teardown closes the process-wide observer. A later Init creates a new one.
func Teardown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultObserver != nil {
		defaultObserver.Close()
		defaultObserver = nil
	}
}
