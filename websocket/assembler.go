package websocket

import (
	"bytes"
	"unicode/utf8"
)

// Message is a complete application message assembled from one or more frames.
type Message struct {
	Type Opcode
	Data []byte
}

// Assembler accumulates a run of frames into one message. At most one
// sequence is open at a time; the protocol is not multiplexed.
type Assembler struct {
	open bool
	typ  Opcode
	buf  bytes.Buffer
}

// Open reports whether a fragmented message is in progress.
func (a *Assembler) Open() bool {
	return a.open
}

// Append adds f to the current sequence. When f completes a message the
// message is returned with done set and the sequence is discarded.
//
// Pong frames always complete immediately and leave an open data sequence
// untouched, since control frames may be interleaved with fragments.
func (a *Assembler) Append(f Frame) (msg Message, done bool, err error) {
	switch f.Opcode {
	case OpPong:
		return Message{Type: OpPong, Data: f.Payload}, true, nil
	case OpContinuation:
		if !a.open {
			return Message{}, false, ErrUnexpectedContinuation
		}
	case OpText, OpBinary:
		if a.open {
			return Message{}, false, ErrExpectedContinuation
		}
		a.open = true
		a.typ = f.Opcode
		a.buf.Reset()
	default:
		return Message{}, false, ErrInvalidOpcode
	}

	a.buf.Write(f.Payload)
	if !f.Fin {
		return Message{}, false, nil
	}

	data := bytes.Clone(a.buf.Bytes())
	if data == nil {
		data = []byte{}
	}
	msg = Message{Type: a.typ, Data: data}
	a.Reset()

	if msg.Type == OpText && !utf8.Valid(msg.Data) {
		return Message{}, false, ErrInvalidUTF8
	}
	return msg, true, nil
}

// Reset discards any open sequence.
func (a *Assembler) Reset() {
	a.open = false
	a.typ = 0
	a.buf.Reset()
}
