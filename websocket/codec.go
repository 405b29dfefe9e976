package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

// Frame header constants per RFC 6455, section 5.2.
const (
	maxFrameHeaderSize         = 14  // 2 bytes base + 8 bytes extended length + 4 bytes mask
	maxControlFramePayloadSize = 125 // RFC 6455, section 5.5: control frame payload <= 125 bytes

	// DefaultMaxFrameSize bounds a single incoming frame payload.
	DefaultMaxFrameSize = 1 << 24

	// First byte bits (RFC 6455, section 5.2).
	finalBit = 1 << 7
	rsv1Bit  = 1 << 6
	rsv2Bit  = 1 << 5
	rsv3Bit  = 1 << 4

	// Second byte bits (RFC 6455, section 5.2).
	maskBit = 1 << 7

	opcodeMask     = 0x0f
	payloadLenMask = 0x7f
	payloadLen16   = 126
	payloadLen64   = 127
)

var randReader io.Reader = rand.Reader

// DecodeFrame parses one frame from the start of b and returns it together
// with the number of bytes consumed. ErrNeedMore is returned while b holds
// only part of a frame. The payload is unmasked and copied out of b.
//
// role is the role of the receiving side: a client rejects masked frames and
// a server rejects unmasked ones. A limit <= 0 disables the length check.
func DecodeFrame(b []byte, role Role, limit int64) (Frame, int, error) {
	var f Frame
	if len(b) < 2 {
		return f, 0, ErrNeedMore
	}

	if b[0]&(rsv1Bit|rsv2Bit|rsv3Bit) != 0 {
		return f, 0, ErrReservedBits
	}

	f.Fin = b[0]&finalBit != 0
	f.Opcode = Opcode(b[0] & opcodeMask)
	if !f.Opcode.valid() {
		return f, 0, ErrInvalidOpcode
	}
	f.Masked = b[1]&maskBit != 0

	switch {
	case role == RoleClient && f.Masked:
		return f, 0, ErrMaskedServerFrame
	case role == RoleServer && !f.Masked:
		return f, 0, ErrUnmaskedClientFrame
	}

	pos := 2
	length := uint64(b[1] & payloadLenMask)
	switch length {
	case payloadLen16:
		if len(b) < pos+2 {
			return f, 0, ErrNeedMore
		}
		length = uint64(binary.BigEndian.Uint16(b[pos:]))
		pos += 2
	case payloadLen64:
		if len(b) < pos+8 {
			return f, 0, ErrNeedMore
		}
		length = binary.BigEndian.Uint64(b[pos:])
		pos += 8
	}

	if f.Opcode.IsControl() {
		if !f.Fin {
			return f, 0, ErrFragmentedControlFrame
		}
		if length > maxControlFramePayloadSize {
			return f, 0, ErrControlFramePayloadTooBig
		}
	}

	// The most significant bit of a 64-bit length must be 0.
	if length > 1<<63-1 || (limit > 0 && length > uint64(limit)) {
		return f, 0, ErrFrameTooLarge
	}

	if f.Masked {
		if len(b) < pos+4 {
			return f, 0, ErrNeedMore
		}
		copy(f.MaskKey[:], b[pos:pos+4])
		pos += 4
	}

	if uint64(len(b)-pos) < length {
		return f, 0, ErrNeedMore
	}

	end := pos + int(length)
	f.Payload = make([]byte, length)
	copy(f.Payload, b[pos:end])
	if f.Masked {
		maskBytes(f.MaskKey[:], 0, f.Payload)
	}

	return f, end, nil
}

// Encoder serializes frames for one side of a connection.
type Encoder struct {
	Role Role

	// Rand supplies mask keys for the client role. Defaults to crypto/rand.
	Rand io.Reader
}

// Encode serializes f. In the client role a fresh random mask key is
// generated for every frame and the payload is masked with it; the caller's
// payload is left untouched. In the server role no mask key is written.
func (e Encoder) Encode(f Frame) ([]byte, error) {
	if f.Opcode.IsControl() {
		if !f.Fin {
			return nil, ErrFragmentedControlFrame
		}
		if len(f.Payload) > maxControlFramePayloadSize {
			return nil, ErrControlFramePayloadTooBig
		}
	}

	payloadLen := len(f.Payload)
	buf := make([]byte, maxFrameHeaderSize+payloadLen)

	b0 := byte(f.Opcode)
	if f.Fin {
		b0 |= finalBit
	}
	buf[0] = b0

	headerLen := 2
	switch {
	case payloadLen <= 125:
		buf[1] = byte(payloadLen)
	case payloadLen <= 65535:
		buf[1] = payloadLen16
		binary.BigEndian.PutUint16(buf[2:], uint16(payloadLen))
		headerLen = 4
	default:
		buf[1] = payloadLen64
		binary.BigEndian.PutUint64(buf[2:], uint64(payloadLen))
		headerLen = 10
	}

	if e.Role == RoleClient {
		r := e.Rand
		if r == nil {
			r = randReader
		}
		buf[1] |= maskBit
		if _, err := io.ReadFull(r, buf[headerLen:headerLen+4]); err != nil {
			return nil, err
		}
		mask := buf[headerLen : headerLen+4]
		headerLen += 4
		copy(buf[headerLen:], f.Payload)
		maskBytes(mask, 0, buf[headerLen:headerLen+payloadLen])
	} else {
		copy(buf[headerLen:], f.Payload)
	}

	return buf[:headerLen+payloadLen], nil
}

// maskBytes applies XOR masking to data per RFC 6455, section 5.3.
// The mask is a 4-byte value, applied cyclically to each byte of the payload.
func maskBytes(mask []byte, pos int, data []byte) int {
	for i := range data {
		data[i] ^= mask[(pos+i)%4]
	}
	return (pos + len(data)) % 4
}
