package websocket

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultCloseTimeout  = 5 * time.Second
	failWriteTimeout     = 100 * time.Millisecond
	defaultSendQueueSize = 256
	readChunkSize        = 4096
)

// Handlers receives engine events. Callbacks run on the engine's read
// goroutine in frame arrival order; they must not block.
type Handlers struct {
	OnText   func(text string)
	OnBinary func(data []byte)
	OnPong   func(data []byte)
	OnError  func(err error)

	// OnClose runs once, after the transport has been closed.
	OnClose func()
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Role Role

	// Reader overrides the transport as the source of incoming bytes, e.g. a
	// bufio.Reader holding bytes read ahead during the handshake.
	Reader io.Reader

	// MaxFrameSize bounds incoming frame payloads. Zero selects DefaultMaxFrameSize,
	// a negative value disables the check.
	MaxFrameSize int64

	// CloseTimeout bounds the wait for the peer's close frame.
	CloseTimeout time.Duration

	// SendQueueSize is the number of frames that may wait for the writer.
	SendQueueSize int

	Subprotocol string
	Logger      *slog.Logger
}

type writeKind int

const (
	writeNormal    writeKind = iota
	writeHalfClose           // close output once written
	writeShutdown            // close the transport once written
)

type outFrame struct {
	data []byte
	kind writeKind
}

// Engine runs the frame protocol for one established connection: decoding,
// dispatch, keepalive and the close handshake.
type Engine struct {
	id           string
	role         Role
	rwc          io.ReadWriteCloser
	br           io.Reader
	enc          Encoder
	maxFrameSize int64
	closeTimeout time.Duration
	subprotocol  string
	logger       *slog.Logger

	out       chan outFrame
	done      chan struct{}
	seq       Assembler
	startOnce sync.Once
	stopOnce  sync.Once

	mu              sync.Mutex
	handlers        Handlers
	started         bool
	closed          bool
	waitingForClose bool
	closedLocally   bool
	closeCode       int
	err             error
	keepalive       keepalive
	closeTimer      *time.Timer
}

// NewEngine wraps an established byte stream. The engine does not read or
// write until Start is called.
func NewEngine(rwc io.ReadWriteCloser, cfg EngineConfig) *Engine {
	maxFrameSize := cfg.MaxFrameSize
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}
	queueSize := cfg.SendQueueSize
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	br := cfg.Reader
	if br == nil {
		br = rwc
	}

	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		id:           id,
		role:         cfg.Role,
		rwc:          rwc,
		br:           br,
		enc:          Encoder{Role: cfg.Role},
		maxFrameSize: maxFrameSize,
		closeTimeout: closeTimeout,
		subprotocol:  cfg.Subprotocol,
		logger:       logger.With("engine_id", id, "role", cfg.Role.String()),
		out:          make(chan outFrame, queueSize),
		done:         make(chan struct{}),
	}
}

// ID returns the unique identifier of the engine.
func (e *Engine) ID() string {
	return e.id
}

// Subprotocol returns the negotiated subprotocol.
func (e *Engine) Subprotocol() string {
	return e.subprotocol
}

// Done is closed once the transport has been closed.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the reason the connection ended: a *CloseError carrying the
// peer's close frame, or the failure that made the engine close. It is nil
// while the connection is open and after a clean locally initiated close.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// CloseCode returns the close code of the connection, or zero while open.
func (e *Engine) CloseCode() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCode
}

// ClosedLocally reports whether this side sent the first close frame.
func (e *Engine) ClosedLocally() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closedLocally
}

// Closed reports whether the transport has been closed.
func (e *Engine) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Start registers the handlers and launches the read and write loops.
// Keepalive is armed if a ping interval is set. Subsequent calls are no-ops.
func (e *Engine) Start(h Handlers) {
	e.startOnce.Do(func() {
		e.mu.Lock()
		e.handlers = h
		if e.closed {
			e.mu.Unlock()
			return
		}
		e.started = true
		e.armKeepaliveLocked()
		e.mu.Unlock()

		e.logger.Debug("engine started")
		go e.writeLoop()
		go e.readLoop()
	})
}

// SendText queues a text message.
func (e *Engine) SendText(text string) error {
	return e.send(Frame{Opcode: OpText, Fin: true, Payload: []byte(text)}, writeNormal)
}

// SendBinary queues a binary message.
func (e *Engine) SendBinary(data []byte) error {
	return e.send(Frame{Opcode: OpBinary, Fin: true, Payload: data}, writeNormal)
}

// SendPing queues an empty ping frame.
func (e *Engine) SendPing() error {
	return e.send(Frame{Opcode: OpPing, Fin: true}, writeNormal)
}

// SendPong queues a pong frame carrying data.
func (e *Engine) SendPong(data []byte) error {
	return e.send(Frame{Opcode: OpPong, Fin: true, Payload: data}, writeNormal)
}

// Close starts the closing handshake with code. Codes 1005 and 1006 are sent
// as 1000. Close is idempotent: once closed or closing it returns nil without
// sending another close frame. The transport is closed when the peer
// acknowledges or after the close timeout.
func (e *Engine) Close(code int) error {
	e.mu.Lock()
	if e.closed || e.waitingForClose {
		e.mu.Unlock()
		return nil
	}
	e.waitingForClose = true
	e.closedLocally = true
	e.closeCode = code
	e.keepalive.stop()
	started := e.started
	e.mu.Unlock()

	if !started {
		e.shutdown(nil)
		return nil
	}

	e.logger.Debug("sending close", "code", code)
	if err := e.send(closeFrame(code), writeNormal); err != nil {
		e.shutdown(nil)
		return err
	}
	e.armCloseTimer(e.closeTimeout)
	return nil
}

// Shutdown closes the transport without waiting for the close handshake.
func (e *Engine) Shutdown() {
	e.shutdown(nil)
}

func closeFrame(code int) Frame {
	return Frame{Opcode: OpClose, Fin: true, Payload: FormatCloseMessage(code, "")}
}

func (e *Engine) send(f Frame, kind writeKind) error {
	data, err := e.enc.Encode(f)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return net.ErrClosed
	}
	// Nothing may follow a close frame (RFC 6455, section 5.5.1).
	if e.waitingForClose && f.Opcode != OpClose {
		return ErrCloseSent
	}

	select {
	case e.out <- outFrame{data: data, kind: kind}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (e *Engine) writeLoop() {
	for {
		select {
		case <-e.done:
			return
		case f := <-e.out:
			if _, err := e.rwc.Write(f.data); err != nil {
				e.shutdown(err)
				return
			}
			switch f.kind {
			case writeShutdown:
				e.shutdown(nil)
				return
			case writeHalfClose:
				e.closeOutput()
			}
		}
	}
}

// closeOutput half-closes the transport when it supports it, leaving the
// read side open for the peer to finish. Otherwise the transport is closed.
func (e *Engine) closeOutput() {
	if cw, ok := e.rwc.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err == nil {
			return
		}
	}
	e.shutdown(nil)
}

func (e *Engine) readLoop() {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		for {
			f, n, err := DecodeFrame(buf, e.role, e.maxFrameSize)
			if errors.Is(err, ErrNeedMore) {
				break
			}
			if err == nil {
				buf = append(buf[:0], buf[n:]...)
				err = e.handleFrame(f)
			}
			if err != nil {
				e.logger.Debug("protocol violation", "error", err)
				e.fail(closeCodeFor(err), err)
				return
			}
			if e.Closed() {
				return
			}
		}

		n, err := e.br.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil && n == 0 {
			e.readFailed(err)
			return
		}
	}
}

func (e *Engine) readFailed(err error) {
	e.mu.Lock()
	expected := e.closed || e.waitingForClose
	if !expected {
		e.closeCode = CloseAbnormalClosure
	}
	e.mu.Unlock()

	if expected {
		e.shutdown(nil)
		return
	}

	text := "unexpected EOF"
	if !errors.Is(err, io.EOF) {
		text = err.Error()
	}
	e.logger.Warn("transport closed without close frame", "error", err)
	e.shutdown(&CloseError{Code: CloseAbnormalClosure, Text: text})
}

func (e *Engine) handleFrame(f Frame) error {
	switch f.Opcode {
	case OpClose:
		return e.handleClose(f)
	case OpPing:
		if !f.Fin {
			return ErrFragmentedControlFrame
		}
		if err := e.send(Frame{Opcode: OpPong, Fin: true, Payload: f.Payload}, writeNormal); err != nil {
			e.logger.Debug("pong not sent", "error", err)
		}
		return nil
	}

	msg, done, err := e.seq.Append(f)
	if err != nil || !done {
		return err
	}

	e.mu.Lock()
	h := e.handlers
	if msg.Type == OpPong {
		e.keepalive.awaitingPong = false
	}
	e.mu.Unlock()

	switch msg.Type {
	case OpText:
		if h.OnText != nil {
			h.OnText(string(msg.Data))
		}
	case OpBinary:
		if h.OnBinary != nil {
			h.OnBinary(msg.Data)
		}
	case OpPong:
		e.logger.Debug("pong received")
		if h.OnPong != nil {
			h.OnPong(msg.Data)
		}
	}
	return nil
}

func (e *Engine) handleClose(f Frame) error {
	code, text, err := ParseCloseMessage(f.Payload)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.waitingForClose {
		e.mu.Unlock()
		e.logger.Debug("close acknowledged", "code", code)
		e.shutdown(nil)
		return nil
	}
	e.waitingForClose = true
	e.closeCode = code
	e.err = &CloseError{Code: code, Text: text}
	e.keepalive.stop()
	e.mu.Unlock()

	e.logger.Debug("close received", "code", code)
	if err := e.send(closeFrame(code), writeHalfClose); err != nil {
		e.shutdown(nil)
		return nil
	}
	e.armCloseTimer(e.closeTimeout)
	return nil
}

// fail reports err and closes the connection with code without waiting for
// the peer's acknowledgement. The close frame is written if the writer gets to
// it within failWriteTimeout; a writer stuck on a dead peer does not hold the
// transport open.
func (e *Engine) fail(code int, err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.err == nil {
		e.err = err
	}
	closing := e.waitingForClose
	if !closing {
		e.waitingForClose = true
		e.closedLocally = true
		e.closeCode = code
	}
	e.keepalive.stop()
	onError := e.handlers.OnError
	e.mu.Unlock()

	if onError != nil {
		onError(err)
	}

	if closing {
		e.shutdown(err)
		return
	}
	if sendErr := e.send(closeFrame(code), writeShutdown); sendErr != nil {
		e.shutdown(err)
		return
	}
	e.armCloseTimer(min(failWriteTimeout, e.closeTimeout))
}

func (e *Engine) armCloseTimer(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.closeTimer != nil {
		return
	}
	e.closeTimer = time.AfterFunc(d, func() {
		e.logger.Debug("close handshake timed out")
		e.shutdown(nil)
	})
}

func (e *Engine) shutdown(err error) {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		if e.err == nil && err != nil {
			e.err = err
		}
		if e.closeCode == 0 {
			e.closeCode = CloseAbnormalClosure
		}
		e.keepalive.stop()
		if e.closeTimer != nil {
			e.closeTimer.Stop()
		}
		onClose := e.handlers.OnClose
		code := e.closeCode
		e.mu.Unlock()

		_ = e.rwc.Close()
		close(e.done)
		e.logger.Debug("engine closed", "code", code, "error", err)

		if onClose != nil {
			onClose()
		}
	})
}
