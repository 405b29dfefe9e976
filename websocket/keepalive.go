package websocket

import (
	"fmt"
	"time"
)

// keepalive is guarded by Engine.mu. gen invalidates timers armed before the
// last stop, so a callback that fires late is a no-op.
type keepalive struct {
	interval     time.Duration
	awaitingPong bool
	timer        *time.Timer
	gen          uint64
}

func (k *keepalive) stop() {
	k.gen++
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}

// SetPingInterval enables keepalive with interval d, or disables it when d is
// zero. Each call cancels the scheduled tick and re-arms from now.
//
// On every tick the engine sends a ping and expects a pong before the next
// tick. A tick that finds the previous ping unanswered presumes the peer dead
// and fails the connection with CloseAbnormalClosure, so a silent peer is
// detected within two intervals.
func (e *Engine) SetPingInterval(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keepalive.interval = d
	e.armKeepaliveLocked()
}

// PingInterval returns the keepalive interval, zero when disabled.
func (e *Engine) PingInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keepalive.interval
}

// AwaitingPong reports whether a keepalive ping is still unanswered.
func (e *Engine) AwaitingPong() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keepalive.awaitingPong
}

func (e *Engine) armKeepaliveLocked() {
	k := &e.keepalive
	k.stop()
	k.awaitingPong = false
	if k.interval <= 0 || !e.started || e.closed || e.waitingForClose {
		return
	}
	gen := k.gen
	k.timer = time.AfterFunc(k.interval, func() { e.keepaliveTick(gen) })
}

func (e *Engine) keepaliveTick(gen uint64) {
	e.mu.Lock()
	k := &e.keepalive
	if gen != k.gen || e.closed || e.waitingForClose {
		e.mu.Unlock()
		return
	}

	if k.awaitingPong {
		interval := k.interval
		e.mu.Unlock()
		e.logger.Warn("pong not received, closing", "interval", interval)
		e.fail(CloseAbnormalClosure, fmt.Errorf("%w: %w", ErrPongTimeout,
			&CloseError{Code: CloseAbnormalClosure, Text: "pong not received"}))
		return
	}

	k.awaitingPong = true
	k.timer = time.AfterFunc(k.interval, func() { e.keepaliveTick(gen) })
	e.mu.Unlock()

	if err := e.SendPing(); err != nil {
		e.logger.Debug("keepalive ping not sent", "error", err)
	}
}
