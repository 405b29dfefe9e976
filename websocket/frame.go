package websocket

import (
	"errors"
	"strconv"
)

// Opcode identifies the frame type per RFC 6455, section 11.8.
type Opcode byte

// Opcodes defined in RFC 6455, section 11.8.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xa
)

// IsControl reports whether the opcode denotes a control frame.
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "opcode(" + strconv.Itoa(int(op)) + ")"
	}
}

func (op Opcode) valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

// Role selects the masking side of the protocol. Client frames are masked,
// server frames are not (RFC 6455, section 5.1).
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Close codes defined in RFC 6455, section 7.4.1.
const (
	CloseNormalClosure           = 1000
	CloseGoingAway               = 1001
	CloseProtocolError           = 1002
	CloseUnsupportedData         = 1003
	CloseNoStatusReceived        = 1005
	CloseAbnormalClosure         = 1006
	CloseInvalidFramePayloadData = 1007
	ClosePolicyViolation         = 1008
	CloseMessageTooBig           = 1009
	CloseMandatoryExtension      = 1010
	CloseInternalServerErr       = 1011
	CloseServiceRestart          = 1012
	CloseTryAgainLater           = 1013
	CloseTLSHandshake            = 1015
)

// Errors returned by the websocket package.
var (
	ErrNeedMore                  = errors.New("websocket: need more bytes")
	ErrBadHandshake              = errors.New("websocket: bad handshake")
	ErrFrameTooLarge             = errors.New("websocket: frame length exceeds limit")
	ErrReservedBits              = errors.New("websocket: reserved bits set")
	ErrInvalidOpcode             = errors.New("websocket: invalid opcode")
	ErrFragmentedControlFrame    = errors.New("websocket: fragmented control frame")
	ErrControlFramePayloadTooBig = errors.New("websocket: control frame payload too big")
	ErrUnexpectedContinuation    = errors.New("websocket: unexpected continuation frame")
	ErrExpectedContinuation      = errors.New("websocket: expected continuation frame")
	ErrMaskedServerFrame         = errors.New("websocket: masked frame from server")
	ErrUnmaskedClientFrame       = errors.New("websocket: unmasked frame from client")
	ErrInvalidUTF8               = errors.New("websocket: invalid UTF-8 in text message")
	ErrInvalidCloseCode          = errors.New("websocket: invalid close code")
	ErrPongTimeout               = errors.New("websocket: pong not received within ping interval")
	ErrCloseSent                 = errors.New("websocket: close sent")
	ErrSendQueueFull             = errors.New("websocket: send queue full")
)

// Frame is a single wire-level protocol unit.
type Frame struct {
	Opcode  Opcode
	Fin     bool
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// CloseError represents a WebSocket close error.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return "websocket: close " + closeCodeString(e.Code) + " " + e.Text
}

func closeCodeString(code int) string {
	switch code {
	case CloseNormalClosure:
		return "1000 (normal)"
	case CloseGoingAway:
		return "1001 (going away)"
	case CloseProtocolError:
		return "1002 (protocol error)"
	case CloseUnsupportedData:
		return "1003 (unsupported data)"
	case CloseNoStatusReceived:
		return "1005 (no status)"
	case CloseAbnormalClosure:
		return "1006 (abnormal closure)"
	case CloseInvalidFramePayloadData:
		return "1007 (invalid payload)"
	case ClosePolicyViolation:
		return "1008 (policy violation)"
	case CloseMessageTooBig:
		return "1009 (message too big)"
	case CloseMandatoryExtension:
		return "1010 (mandatory extension)"
	case CloseInternalServerErr:
		return "1011 (internal server error)"
	case CloseServiceRestart:
		return "1012 (service restart)"
	case CloseTryAgainLater:
		return "1013 (try again later)"
	case CloseTLSHandshake:
		return "1015 (TLS handshake)"
	default:
		return strconv.Itoa(code)
	}
}

// closeCodeFor maps a protocol violation to the close code sent to the peer.
func closeCodeFor(err error) int {
	switch {
	case errors.Is(err, ErrFrameTooLarge):
		return CloseMessageTooBig
	case errors.Is(err, ErrInvalidUTF8):
		return CloseInvalidFramePayloadData
	default:
		return CloseProtocolError
	}
}
