package wsclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/resock/lifecycle"
	"github.com/vitalvas/resock/reachability"
	"github.com/vitalvas/resock/websocket"
)

// testServer echoes data messages and hands every server-side engine to the
// test.
type testServer struct {
	*httptest.Server
	engines chan *websocket.Engine
	auth    chan string
	reject  atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := &testServer{
		engines: make(chan *websocket.Engine, 16),
		auth:    make(chan string, 16),
	}
	upgrader := &websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status := s.reject.Load(); status != 0 {
			http.Error(w, "denied", int(status))
			return
		}

		engine, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		engine.Start(websocket.Handlers{
			OnText:   func(text string) { _ = engine.SendText(text) },
			OnBinary: func(data []byte) { _ = engine.SendBinary(data) },
		})

		select {
		case s.auth <- r.Header.Get("Authorization"):
		default:
		}
		select {
		case s.engines <- engine:
		default:
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// countingTransport counts handshakes.
type countingTransport struct {
	inner Transport
	dials atomic.Int32
}

func (c *countingTransport) DialContext(ctx context.Context, urlStr string, header http.Header) (*websocket.Engine, *http.Response, error) {
	c.dials.Add(1)
	return c.inner.DialContext(ctx, urlStr, header)
}

// blockingTransport never completes a handshake before its context ends.
type blockingTransport struct{}

func (blockingTransport) DialContext(ctx context.Context, _ string, _ http.Header) (*websocket.Engine, *http.Response, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

// trackingTransport records dialed engines and whether a dial started while
// an earlier engine was still open.
type trackingTransport struct {
	inner   Transport
	mu      sync.Mutex
	engines []*websocket.Engine
	overlap atomic.Bool
}

func (tt *trackingTransport) DialContext(ctx context.Context, urlStr string, header http.Header) (*websocket.Engine, *http.Response, error) {
	tt.mu.Lock()
	for _, e := range tt.engines {
		if !e.Closed() {
			tt.overlap.Store(true)
		}
	}
	tt.mu.Unlock()

	engine, resp, err := tt.inner.DialContext(ctx, urlStr, header)
	if engine != nil {
		tt.mu.Lock()
		tt.engines = append(tt.engines, engine)
		tt.mu.Unlock()
	}
	return engine, resp, err
}

func (tt *trackingTransport) dialed() []*websocket.Engine {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return append([]*websocket.Engine(nil), tt.engines...)
}

type recorder struct {
	states chan ConnectionState
	texts  chan string
	binary chan []byte
}

func newRecorder() *recorder {
	return &recorder{
		states: make(chan ConnectionState, 64),
		texts:  make(chan string, 64),
		binary: make(chan []byte, 64),
	}
}

func (r *recorder) delegate() Delegate {
	return DelegateFuncs{
		OnStateChange: func(s ConnectionState) { r.states <- s },
		OnText:        func(text string) { r.texts <- text },
		OnBinary:      func(data []byte) { r.binary <- data },
	}
}

func (r *recorder) expect(t *testing.T, want ...ConnectionState) {
	t.Helper()

	for _, w := range want {
		select {
		case got := <-r.states:
			require.True(t, w.Equal(got), "want %s, got %s", w, got)
		case <-time.After(3 * time.Second):
			require.FailNow(t, "timed out waiting for state", "want %s", w)
		}
	}
}

func (r *recorder) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case got := <-r.states:
		assert.Fail(t, "unexpected state change", "got %s", got)
	case <-time.After(d):
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		require.FailNow(t, "timed out")
	}
	var zero T
	return zero
}

type fixture struct {
	server    *testServer
	client    *Client
	rec       *recorder
	transport *countingTransport
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()

	server := newTestServer(t)
	if cfg.URL == "" {
		cfg.URL = server.URL
	}

	rec := newRecorder()
	transport := &countingTransport{inner: &websocket.Dialer{CloseTimeout: time.Second}}

	opts = append([]Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTransport(transport),
		WithDelegate(rec.delegate()),
	}, opts...)

	client, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{server: server, client: client, rec: rec, transport: transport}
}

func (f *fixture) connect(t *testing.T) *websocket.Engine {
	t.Helper()

	require.NoError(t, f.client.Start())
	f.rec.expect(t, Connecting(), Connected())
	return receive(t, f.server.engines)
}

func TestClientNew(t *testing.T) {
	t.Run("Initial state", func(t *testing.T) {
		client, err := New(Config{URL: "ws://localhost:1"}, WithLogger(slog.New(slog.DiscardHandler)))
		require.NoError(t, err)
		defer client.Close()

		assert.True(t, Disconnected(ReasonNotStarted).Equal(client.State()))
	})

	t.Run("Invalid config", func(t *testing.T) {
		_, err := New(Config{URL: "ftp://example.com"})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("Proxy config builds dialer", func(t *testing.T) {
		client, err := New(Config{URL: "ws://example.com", Proxy: "socks5://127.0.0.1:1080"})
		require.NoError(t, err)
		defer client.Close()

		d, ok := client.transport.(*websocket.Dialer)
		require.True(t, ok)
		require.NotNil(t, d.Proxy)
		proxyURL, err := d.Proxy(&http.Request{})
		require.NoError(t, err)
		assert.Equal(t, "socks5://127.0.0.1:1080", proxyURL.String())
		assert.Equal(t, DefaultHandshakeTimeout, d.HandshakeTimeout)
	})
}

func TestClientConnect(t *testing.T) {
	t.Run("Echo", func(t *testing.T) {
		f := newFixture(t, Config{Token: "secret"})
		f.connect(t)

		assert.Equal(t, BasicAuthorization("secret"), receive(t, f.server.auth))
		assert.True(t, f.client.State().IsConnected())

		require.NoError(t, f.client.SendText("hello"))
		assert.Equal(t, "hello", receive(t, f.rec.texts))

		require.NoError(t, f.client.Send([]byte{1, 2, 3}))
		assert.Equal(t, []byte{1, 2, 3}, receive(t, f.rec.binary))

		require.NoError(t, f.client.SendJSON(map[string]int{"n": 1}))
		assert.JSONEq(t, `{"n":1}`, receive(t, f.rec.texts))

		require.NoError(t, f.client.SendPing())
		require.NoError(t, f.client.SendPong())
	})

	t.Run("Messages arrive in order", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.connect(t)

		for _, msg := range []string{"one", "two", "three"} {
			require.NoError(t, f.client.SendText(msg))
		}
		for _, msg := range []string{"one", "two", "three"} {
			assert.Equal(t, msg, receive(t, f.rec.texts))
		}
	})

	t.Run("Start while connected is a no-op", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.connect(t)

		require.NoError(t, f.client.Start())
		f.rec.expectQuiet(t, 100*time.Millisecond)
		assert.EqualValues(t, 1, f.transport.dials.Load())
	})

	t.Run("Keepalive", func(t *testing.T) {
		f := newFixture(t, Config{PingInterval: 20 * time.Millisecond})
		f.connect(t)

		f.rec.expectQuiet(t, 150*time.Millisecond)
		assert.True(t, f.client.State().IsConnected())
	})
}

func TestClientMissedPong(t *testing.T) {
	var conns atomic.Int32
	upgrader := gorilla.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if conns.Add(1) == 1 {
			conn.SetPingHandler(func(string) error { return nil })
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	rec := newRecorder()
	client, err := New(Config{URL: server.URL, PingInterval: 30 * time.Millisecond},
		WithLogger(slog.New(slog.DiscardHandler)),
		WithDelegate(rec.delegate()),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Start())
	rec.expect(t, Connecting(), Connected())

	state := receive(t, rec.states)
	require.True(t, Disconnected(ReasonTransportError).Equal(state), "got %s", state)
	assert.True(t, websocket.IsCloseError(state.Err, websocket.CloseAbnormalClosure))
	assert.ErrorIs(t, state.Err, websocket.ErrPongTimeout)

	rec.expect(t, Connecting(), Connected())
	assert.EqualValues(t, 2, conns.Load())
}

func TestClientSendPreconditions(t *testing.T) {
	t.Run("Not started", func(t *testing.T) {
		f := newFixture(t, Config{})

		err := f.client.SendText("x")
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.False(t, IsTemporary(err))
	})

	t.Run("Still connecting", func(t *testing.T) {
		client, err := New(Config{URL: "ws://example.com"},
			WithLogger(slog.New(slog.DiscardHandler)),
			WithTransport(blockingTransport{}),
		)
		require.NoError(t, err)
		defer client.Close()

		require.NoError(t, client.Start())
		require.Eventually(t, func() bool {
			return client.State().Status == StatusConnecting
		}, time.Second, time.Millisecond)

		err = client.Send([]byte("x"))
		assert.ErrorIs(t, err, ErrStillConnecting)
		assert.True(t, IsTemporary(err))

		assert.ErrorIs(t, client.SendPing(), ErrStillConnecting)
		assert.ErrorIs(t, client.SendPong(), ErrStillConnecting)
	})

	t.Run("Closed client", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.connect(t)

		require.NoError(t, f.client.Close())
		assert.ErrorIs(t, f.client.SendText("x"), ErrClientClosed)
		assert.ErrorIs(t, f.client.Start(), ErrClientClosed)
		assert.ErrorIs(t, f.client.Stop(), ErrClientClosed)
		assert.NoError(t, f.client.Close())
	})
}

func TestClientStop(t *testing.T) {
	f := newFixture(t, Config{})
	server := f.connect(t)

	require.NoError(t, f.client.Stop())
	f.rec.expect(t, Disconnected(ReasonNotStarted))

	select {
	case <-server.Done():
	case <-time.After(3 * time.Second):
		require.FailNow(t, "server connection not closed")
	}
	assert.Equal(t, websocket.CloseNormalClosure, server.CloseCode())
	assert.False(t, server.ClosedLocally())

	// No reconnect while stopped.
	f.rec.expectQuiet(t, 100*time.Millisecond)
	assert.EqualValues(t, 1, f.transport.dials.Load())
	assert.ErrorIs(t, f.client.SendText("x"), ErrNotConnected)
}

func TestClientHandshakeFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.server.reject.Store(http.StatusUnauthorized)

	require.NoError(t, f.client.Start())
	f.rec.expect(t, Connecting(), Disconnected(ReasonTransportError))

	state := f.client.State()
	var handshakeErr *websocket.HandshakeError
	require.ErrorAs(t, state.Err, &handshakeErr)
	assert.Equal(t, http.StatusUnauthorized, handshakeErr.StatusCode)

	// Handshake failures are not retried until the next trigger.
	f.rec.expectQuiet(t, 150*time.Millisecond)
	assert.EqualValues(t, 1, f.transport.dials.Load())

	f.server.reject.Store(0)
	require.NoError(t, f.client.Start())
	f.rec.expect(t, Connecting(), Connected())
}

func TestClientServerClose(t *testing.T) {
	f := newFixture(t, Config{})
	server := f.connect(t)

	require.NoError(t, server.Close(websocket.CloseGoingAway))
	f.rec.expect(t, Disconnected(ReasonUnexpectedServerError), Connecting(), Connected())
	receive(t, f.server.engines)

	assert.EqualValues(t, 2, f.transport.dials.Load())
}

func TestClientServerDrop(t *testing.T) {
	f := newFixture(t, Config{})
	server := f.connect(t)

	server.Shutdown()
	f.rec.expect(t, Disconnected(ReasonUnexpectedServerError), Connecting(), Connected())
}

func TestClientProtocolViolation(t *testing.T) {
	var conns atomic.Int32
	upgrader := gorilla.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if conns.Add(1) == 1 {
			// A ping without the fin bit.
			_, _ = conn.UnderlyingConn().Write([]byte{0x09, 0x00})
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	rec := newRecorder()
	client, err := New(Config{URL: server.URL},
		WithLogger(slog.New(slog.DiscardHandler)),
		WithDelegate(rec.delegate()),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Start())
	rec.expect(t, Connecting(), Connected(), Disconnected(ReasonTransportError))
	rec.expect(t, Connecting(), Connected())
	assert.EqualValues(t, 2, conns.Load())
}

func TestClientReachability(t *testing.T) {
	t.Run("Network loss and recovery", func(t *testing.T) {
		monitor := reachability.NewMonitor(true, reachability.TypeWiFi)
		f := newFixture(t, Config{}, WithReachability(monitor))
		server := f.connect(t)

		monitor.SetReachable(false)
		f.rec.expect(t, Disconnected(ReasonNetworkNotReachable))

		select {
		case <-server.Done():
		case <-time.After(3 * time.Second):
			require.FailNow(t, "server connection not closed")
		}
		assert.Equal(t, websocket.CloseGoingAway, server.CloseCode())

		assert.ErrorIs(t, f.client.SendText("x"), ErrNotConnected)

		monitor.SetReachable(true)
		f.rec.expect(t, Connecting(), Connected())
		assert.EqualValues(t, 2, f.transport.dials.Load())

		f.rec.expectQuiet(t, 100*time.Millisecond)
		assert.EqualValues(t, 2, f.transport.dials.Load())
	})

	t.Run("Start while unreachable", func(t *testing.T) {
		monitor := reachability.NewMonitor(false, reachability.TypeUnknown)
		f := newFixture(t, Config{}, WithReachability(monitor))

		require.NoError(t, f.client.Start())
		f.rec.expect(t, Disconnected(ReasonNetworkNotReachable))
		assert.Zero(t, f.transport.dials.Load())

		monitor.Update(true, reachability.TypeCellular)
		f.rec.expect(t, Connecting(), Connected())
	})

	t.Run("Reachable while stopped", func(t *testing.T) {
		monitor := reachability.NewMonitor(false, reachability.TypeUnknown)
		f := newFixture(t, Config{}, WithReachability(monitor))

		monitor.SetReachable(true)
		f.rec.expectQuiet(t, 100*time.Millisecond)
		assert.Zero(t, f.transport.dials.Load())
	})

	t.Run("Connection type change", func(t *testing.T) {
		monitor := reachability.NewMonitor(true, reachability.TypeWiFi)
		f := newFixture(t, Config{}, WithReachability(monitor))
		f.connect(t)

		monitor.Update(true, reachability.TypeCellular)
		f.rec.expect(t, Disconnected(ReasonNetworkNotReachable), Connecting(), Connected())
		assert.EqualValues(t, 2, f.transport.dials.Load())
	})

	t.Run("Rapid type changes keep one engine open", func(t *testing.T) {
		release := make(chan struct{})
		upgrader := gorilla.Upgrader{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()

			// Never reads, so a close frame is never acknowledged.
			<-release
		}))
		defer server.Close()
		defer close(release)

		monitor := reachability.NewMonitor(true, reachability.TypeWiFi)
		transport := &trackingTransport{inner: &websocket.Dialer{CloseTimeout: 300 * time.Millisecond}}
		rec := newRecorder()
		client, err := New(Config{URL: server.URL},
			WithLogger(slog.New(slog.DiscardHandler)),
			WithTransport(transport),
			WithReachability(monitor),
			WithDelegate(rec.delegate()),
		)
		require.NoError(t, err)
		defer client.Close()

		require.NoError(t, client.Start())
		rec.expect(t, Connecting(), Connected())

		monitor.Update(true, reachability.TypeCellular)
		monitor.Update(true, reachability.TypeWiFi)

		rec.expect(t,
			Disconnected(ReasonNetworkNotReachable), Connecting(),
			Disconnected(ReasonNetworkNotReachable), Connecting(),
			Connected(),
		)

		engines := transport.dialed()
		require.Len(t, engines, 2)
		assert.True(t, engines[0].Closed())
		assert.False(t, transport.overlap.Load())
	})

	t.Run("Close unsubscribes", func(t *testing.T) {
		monitor := reachability.NewMonitor(true, reachability.TypeWiFi)
		f := newFixture(t, Config{}, WithReachability(monitor))

		require.NoError(t, f.client.Close())
		assert.NotPanics(t, func() { monitor.SetReachable(false) })
	})
}

func TestClientLifecycle(t *testing.T) {
	t.Run("Foreground after expired background session", func(t *testing.T) {
		observer := lifecycle.NewObserver()
		f := newFixture(t, Config{}, WithLifecycle(observer))
		f.connect(t)

		observer.EnterBackground()
		observer.BackgroundExpired()
		observer.EnterForeground()

		f.rec.expect(t, Disconnected(ReasonAppBackgrounded), Connecting(), Connected())
		assert.EqualValues(t, 2, f.transport.dials.Load())
	})

	t.Run("Graceful background session", func(t *testing.T) {
		observer := lifecycle.NewObserver()
		f := newFixture(t, Config{}, WithLifecycle(observer))
		f.connect(t)

		observer.EnterBackground()
		observer.EnterForeground()

		f.rec.expectQuiet(t, 100*time.Millisecond)
		assert.True(t, f.client.State().IsConnected())
	})

	t.Run("Foreground while stopped", func(t *testing.T) {
		observer := lifecycle.NewObserver()
		f := newFixture(t, Config{}, WithLifecycle(observer))

		observer.EnterBackground()
		observer.BackgroundExpired()
		observer.EnterForeground()

		f.rec.expectQuiet(t, 100*time.Millisecond)
		assert.Zero(t, f.transport.dials.Load())
	})

	t.Run("Close unsubscribes", func(t *testing.T) {
		observer := lifecycle.NewObserver()
		f := newFixture(t, Config{}, WithLifecycle(observer))
		assert.Equal(t, 1, observer.Subscribers())

		require.NoError(t, f.client.Close())
		assert.Zero(t, observer.Subscribers())
	})
}

func TestClientDelegate(t *testing.T) {
	t.Run("Replace delegate", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.connect(t)

		other := newRecorder()
		f.client.SetDelegate(other.delegate())

		require.NoError(t, f.client.SendText("to other"))
		assert.Equal(t, "to other", receive(t, other.texts))
	})

	t.Run("Nil delegate", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.connect(t)

		f.client.SetDelegate(nil)
		require.NoError(t, f.client.SendText("dropped"))
		require.NoError(t, f.client.Stop())
		require.Eventually(t, func() bool {
			return Disconnected(ReasonNotStarted).Equal(f.client.State())
		}, time.Second, time.Millisecond)
	})

	t.Run("Close delivers queued notifications", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.connect(t)

		require.NoError(t, f.client.Close())
		f.rec.expect(t, Disconnected(ReasonNotStarted))
	})
}

func TestClientTransportErrorFromDial(t *testing.T) {
	dialErr := errors.New("dial refused")
	client, err := New(Config{URL: "ws://example.com"},
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTransport(transportFunc(func(context.Context, string, http.Header) (*websocket.Engine, *http.Response, error) {
			return nil, nil, dialErr
		})),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Start())
	require.Eventually(t, func() bool {
		return client.State().Reason == ReasonTransportError && client.State().Status == StatusDisconnected
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, client.State().Err, dialErr)
}

type transportFunc func(ctx context.Context, urlStr string, header http.Header) (*websocket.Engine, *http.Response, error)

func (f transportFunc) DialContext(ctx context.Context, urlStr string, header http.Header) (*websocket.Engine, *http.Response, error) {
	return f(ctx, urlStr, header)
}
