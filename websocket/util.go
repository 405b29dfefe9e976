package websocket

import (
	"encoding/binary"
	"errors"
	"slices"
	"unicode/utf8"
)

// FormatCloseMessage formats closeCode and text as a WebSocket close message
// per RFC 6455, section 5.5.1. The close frame body consists of a 2-byte
// status code followed by optional UTF-8 encoded reason text.
//
// Codes 1005 and 1006 are reserved for local use and are sent as 1000.
func FormatCloseMessage(closeCode int, text string) []byte {
	closeCode = wireCloseCode(closeCode)
	buf := make([]byte, 2+len(text))
	binary.BigEndian.PutUint16(buf, uint16(closeCode))
	copy(buf[2:], text)
	if len(buf) > maxControlFramePayloadSize {
		buf = buf[:maxControlFramePayloadSize]
	}
	return buf
}

// ParseCloseMessage extracts the status code and reason from a close frame
// body. An empty body yields CloseNoStatusReceived.
func ParseCloseMessage(payload []byte) (int, string, error) {
	switch len(payload) {
	case 0:
		return CloseNoStatusReceived, "", nil
	case 1:
		return 0, "", ErrInvalidCloseCode
	}

	code := int(binary.BigEndian.Uint16(payload))
	if !validReceivedCloseCode(code) {
		return code, "", ErrInvalidCloseCode
	}
	text := payload[2:]
	if !utf8.Valid(text) {
		return code, "", ErrInvalidUTF8
	}
	return code, string(text), nil
}

// wireCloseCode substitutes codes that must never be transmitted.
func wireCloseCode(code int) int {
	switch code {
	case CloseNoStatusReceived, CloseAbnormalClosure:
		return CloseNormalClosure
	}
	return code
}

// validReceivedCloseCode reports whether a peer may send code, per RFC 6455,
// section 7.4.
func validReceivedCloseCode(code int) bool {
	switch {
	case code >= 3000 && code <= 4999:
		return true
	case code < 1000 || code > 1015:
		return false
	}
	switch code {
	case 1004, CloseNoStatusReceived, CloseAbnormalClosure, CloseTLSHandshake:
		return false
	}
	return true
}

// IsCloseError returns true if the error is a CloseError with one of the specified codes.
// Close codes are defined in RFC 6455, section 7.4.1.
func IsCloseError(err error, codes ...int) bool {
	var closeErr *CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return slices.Contains(codes, closeErr.Code)
}

// IsUnexpectedCloseError returns true if the error is a CloseError with a code
// NOT in the expected codes list. Close codes are defined in RFC 6455, section 7.4.1.
func IsUnexpectedCloseError(err error, expectedCodes ...int) bool {
	var closeErr *CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return !slices.Contains(expectedCodes, closeErr.Code)
}
