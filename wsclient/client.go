package wsclient

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/vitalvas/resock/lifecycle"
	"github.com/vitalvas/resock/reachability"
	"github.com/vitalvas/resock/websocket"
)

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evReachability
	evTypeChange
	evForeground
	evDialed
	evEngineClosed
)

type event struct {
	kind      eventKind
	reachable bool
	gen       uint64
	engine    *websocket.Engine
	err       error
}

// Client keeps a WebSocket connection open while started. It reconnects once
// per triggering event: network reachable again, connection type change,
// return to foreground after an expired background session, or an
// unexpected close. There is no backoff and no retry cap, and a failed
// handshake is not retried until the next trigger.
//
// All state changes run on one supervisor goroutine; the public methods
// never block on the network.
type Client struct {
	cfg       Config
	endpoint  Endpoint
	logger    *slog.Logger
	transport Transport
	reach     reachability.Source
	life      lifecycle.Source
	notifier  *notifier

	events      chan event
	quit        chan struct{}
	loopDone    chan struct{}
	closeOnce   sync.Once
	unsubscribe []func()

	mu       sync.RWMutex
	state    ConnectionState
	engine   *websocket.Engine
	delegate Delegate
	closed   bool

	// Owned by the supervisor goroutine.
	started    bool
	gen        uint64
	cancelDial context.CancelFunc
	retired    []*websocket.Engine // closing, not yet Done
}

// New creates a stopped client in state Disconnected(NotStarted).
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		endpoint: endpoint,
		logger:   slog.Default(),
		events:   make(chan event, 64),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		state:    Disconnected(ReasonNotStarted),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("endpoint", endpoint.hostPort())

	if c.transport == nil {
		d, err := newDialer(cfg, c.logger)
		if err != nil {
			return nil, err
		}
		c.transport = d
	}

	c.notifier = newNotifier()

	if c.reach != nil {
		c.unsubscribe = append(c.unsubscribe, c.reach.Subscribe(reachability.Handler{
			OnChange: func(reachable bool) {
				_ = c.post(event{kind: evReachability, reachable: reachable})
			},
			OnTypeChange: func(reachability.ConnectionType) {
				_ = c.post(event{kind: evTypeChange})
			},
		}))
	}
	if c.life != nil {
		c.unsubscribe = append(c.unsubscribe, c.life.SubscribeForeground(func() {
			_ = c.post(event{kind: evForeground})
		}))
	}

	go c.run()
	return c, nil
}

// Start records the intent to be connected and connects if disconnected.
func (c *Client) Start() error {
	return c.post(event{kind: evStart})
}

// Stop closes the connection and suppresses reconnects. The state becomes
// Disconnected(NotStarted).
func (c *Client) Stop() error {
	return c.post(event{kind: evStop})
}

// Close stops the client, waits for the connection to close and for queued
// notifications to be delivered. It must not be called from a Delegate.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		for _, cancel := range c.unsubscribe {
			cancel()
		}
		close(c.quit)
		<-c.loopDone
		c.notifier.close()
	})
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetDelegate replaces the delegate. Nil disables notifications.
func (c *Client) SetDelegate(d Delegate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = d
}

// Send queues a binary message.
func (c *Client) Send(data []byte) error {
	engine, err := c.activeEngine()
	if err != nil {
		return err
	}
	return engine.SendBinary(data)
}

// SendText queues a text message.
func (c *Client) SendText(text string) error {
	engine, err := c.activeEngine()
	if err != nil {
		return err
	}
	return engine.SendText(text)
}

// SendJSON queues the JSON encoding of v as a text message.
func (c *Client) SendJSON(v any) error {
	engine, err := c.activeEngine()
	if err != nil {
		return err
	}
	return engine.SendJSON(v)
}

// SendPing queues an empty ping frame.
func (c *Client) SendPing() error {
	engine, err := c.activeEngine()
	if err != nil {
		return err
	}
	return engine.SendPing()
}

// SendPong queues an unsolicited empty pong frame, which peers use as a
// unidirectional heartbeat.
func (c *Client) SendPong() error {
	engine, err := c.activeEngine()
	if err != nil {
		return err
	}
	return engine.SendPong(nil)
}

func (c *Client) activeEngine() (*websocket.Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.state.Status != StatusConnected || c.engine == nil {
		return nil, &NotConnectedError{State: c.state}
	}
	return c.engine, nil
}

func (c *Client) currentDelegate() Delegate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.delegate
}

func (c *Client) post(ev event) error {
	select {
	case <-c.quit:
	default:
		select {
		case <-c.quit:
		case c.events <- ev:
			return nil
		}
	}
	if ev.engine != nil && ev.kind == evDialed {
		ev.engine.Shutdown()
	}
	return ErrClientClosed
}

func (c *Client) run() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.quit:
			c.shutdown()
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Client) handle(ev event) {
	status := c.State().Status

	switch ev.kind {
	case evStart:
		c.started = true
		if status == StatusDisconnected {
			c.connect()
		}

	case evStop:
		c.started = false
		c.teardown(Disconnected(ReasonNotStarted), websocket.CloseNormalClosure)

	case evReachability:
		switch {
		case !ev.reachable && (c.started || status != StatusDisconnected):
			c.teardown(Disconnected(ReasonNetworkNotReachable), websocket.CloseGoingAway)
		case ev.reachable && c.started && status == StatusDisconnected:
			c.connect()
		}

	case evTypeChange:
		if !c.started {
			return
		}
		// The old socket is bound to a network path that no longer exists.
		c.teardown(Disconnected(ReasonNetworkNotReachable), websocket.CloseGoingAway)
		c.connect()

	case evForeground:
		if !c.started {
			return
		}
		if status != StatusDisconnected {
			c.teardown(Disconnected(ReasonAppBackgrounded), websocket.CloseGoingAway)
		}
		c.connect()

	case evDialed:
		c.dialed(ev)

	case evEngineClosed:
		c.engineClosed(ev.engine)
	}
}

// connect starts a dial unless the network is known to be unreachable. Every
// retired engine is waited for first so that two engines are never open.
func (c *Client) connect() {
	if c.reach != nil && !c.reach.Reachable() {
		c.setState(Disconnected(ReasonNetworkNotReachable))
		return
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	retired := c.pruneRetired()

	c.setState(Connecting())
	c.logger.Debug("dialing", "attempt", gen)

	go func() {
		for _, engine := range retired {
			select {
			case <-engine.Done():
			case <-ctx.Done():
				return
			}
		}
		engine, _, err := c.transport.DialContext(ctx, c.endpoint.String(), c.endpoint.Header.Clone())
		_ = c.post(event{kind: evDialed, gen: gen, engine: engine, err: err})
	}()
}

func (c *Client) dialed(ev event) {
	if ev.gen != c.gen || c.State().Status != StatusConnecting {
		if ev.engine != nil {
			ev.engine.Shutdown()
		}
		return
	}
	c.cancelDial = nil

	if ev.err != nil {
		c.logger.Warn("handshake failed", "error", ev.err)
		c.setState(TransportFailure(ev.err))
		return
	}

	engine := ev.engine
	c.mu.Lock()
	c.engine = engine
	c.mu.Unlock()
	c.setState(Connected())

	logger := c.logger.With("engine_id", engine.ID())
	engine.Start(websocket.Handlers{
		OnText: func(text string) {
			c.notifier.post(func() {
				if d := c.currentDelegate(); d != nil {
					d.TextReceived(text)
				}
			})
		},
		OnBinary: func(data []byte) {
			c.notifier.post(func() {
				if d := c.currentDelegate(); d != nil {
					d.BinaryReceived(data)
				}
			})
		},
		OnError: func(err error) {
			logger.Warn("connection failed", "error", err)
		},
		OnClose: func() {
			go c.post(event{kind: evEngineClosed, engine: engine})
		},
	})
	if c.cfg.PingInterval > 0 {
		engine.SetPingInterval(c.cfg.PingInterval)
	}
}

func (c *Client) engineClosed(engine *websocket.Engine) {
	c.mu.RLock()
	active := c.engine == engine
	c.mu.RUnlock()
	if !active {
		c.pruneRetired()
		return
	}

	c.mu.Lock()
	c.engine = nil
	c.mu.Unlock()

	next := Disconnected(ReasonUnexpectedServerError)
	if engine.ClosedLocally() {
		next = TransportFailure(engine.Err())
	}
	c.logger.Info("connection closed", "engine_id", engine.ID(), "code", engine.CloseCode(), "error", engine.Err())
	c.setState(next)

	if c.started {
		c.connect()
	}
}

// teardown cancels a pending dial, starts closing the active engine and
// moves to next.
func (c *Client) teardown(next ConnectionState, code int) {
	c.gen++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()

	if engine != nil {
		c.retired = append(c.retired, engine)
		_ = engine.Close(code)
	}
	c.setState(next)
}

// pruneRetired drops retired engines whose transport is closed and returns a
// copy of the rest.
func (c *Client) pruneRetired() []*websocket.Engine {
	c.retired = slices.DeleteFunc(c.retired, (*websocket.Engine).Closed)
	return slices.Clone(c.retired)
}

func (c *Client) shutdown() {
	c.started = false
	c.teardown(Disconnected(ReasonNotStarted), websocket.CloseNormalClosure)

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	// Dial results queued after quit are never handled.
drain:
	for {
		select {
		case ev := <-c.events:
			if ev.kind == evDialed && ev.engine != nil {
				ev.engine.Shutdown()
			}
		default:
			break drain
		}
	}

	deadline := time.NewTimer(c.cfg.CloseTimeout)
	defer deadline.Stop()
	expired := false
	for _, engine := range c.retired {
		if expired {
			engine.Shutdown()
			continue
		}
		select {
		case <-engine.Done():
		case <-deadline.C:
			expired = true
			engine.Shutdown()
		}
	}
	c.retired = nil
}

func (c *Client) setState(next ConnectionState) {
	c.mu.Lock()
	prev := c.state
	if prev.Equal(next) {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	c.logger.Info("connection state changed", "from", prev.String(), "to", next.String())
	c.notifier.post(func() {
		if d := c.currentDelegate(); d != nil {
			d.StateChanged(next)
		}
	})
}
