// Package websocket implements the WebSocket frame extractor, message
// reassembler, control-frame protocol, close handshake and per-message
// deflate (spec.md §4.4, RFC 6455 + RFC 7692).
package websocket

import (
	"encoding/binary"
	"io"
)

// Frame is one parsed WebSocket frame (spec.md §3).
type Frame struct {
	Fin     bool
	RSV1    bool // compressed, when permessage-deflate is negotiated
	Opcode  Opcode
	Data    []byte
	Code    int    // for CLOSE frames
	Reason  string // for CLOSE frames
}

// protocolErr carries the close code a frame-level violation should
// produce (spec.md §4.4).
type protocolErr struct {
	code int
	msg  string
}

func (e *protocolErr) Error() string { return e.msg }

func perr(code int, msg string) error { return &protocolErr{code: code, msg: msg} }

// CloseCode extracts the WebSocket close code a parse error should
// terminate the connection with, defaulting to 1002.
func CloseCode(err error) int {
	if pe, ok := err.(*protocolErr); ok {
		return pe.code
	}
	return 1002
}

// ReadFrame parses one complete frame from r (spec.md §4.4). maxFrameSize
// of 0 means unlimited. It enforces I7–I10 at the wire-framing level
// (fragmentation/continuation semantics are enforced by the reassembler in
// message.go).
func ReadFrame(r io.Reader, maxFrameSize int) (*Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	fin := hdr[0]&0x80 != 0
	rsv1 := hdr[0]&0x40 != 0
	rsv2 := hdr[0]&0x20 != 0
	rsv3 := hdr[0]&0x10 != 0
	opcode := Opcode(hdr[0] & 0x0f)
	masked := hdr[1]&0x80 != 0
	lenField := int(hdr[1] & 0x7f)

	if rsv2 || rsv3 {
		return nil, perr(1002, "rsv2/rsv3 set")
	}

	var payloadLen uint64
	switch lenField {
	case 126:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		payloadLen = uint64(binary.BigEndian.Uint16(b[:]))
	case 127:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		payloadLen = binary.BigEndian.Uint64(b[:])
	default:
		payloadLen = uint64(lenField)
	}

	if maxFrameSize > 0 && payloadLen > uint64(maxFrameSize) {
		return nil, perr(1009, "frame exceeds configured maximum size")
	}

	if opcode.isControl() {
		if !fin {
			return nil, perr(1002, "fragmented control frame")
		}
		if payloadLen > 125 {
			return nil, perr(1002, "control frame payload exceeds 125 bytes")
		}
		if rsv1 {
			return nil, perr(1002, "rsv1 set on control frame")
		}
	}

	// I10: client-to-server frames must be masked.
	if !masked {
		return nil, perr(1002, "unmasked client frame")
	}

	var maskKey [4]byte
	if _, err := io.ReadFull(r, maskKey[:]); err != nil {
		return nil, err
	}

	data := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	maskBytes(maskKey, data)

	f := &Frame{Fin: fin, RSV1: rsv1, Opcode: opcode, Data: data}
	if opcode == OpClose {
		if len(data) == 1 {
			return nil, perr(1002, "close frame with 1-byte payload")
		}
		if len(data) >= 2 {
			f.Code = int(binary.BigEndian.Uint16(data[:2]))
			f.Reason = string(data[2:])
		}
	}
	return f, nil
}

// WriteFrame serializes one frame to w. Server-to-client frames are never
// masked (RFC 6455 §5.1).
func WriteFrame(w io.Writer, fin bool, rsv1 bool, opcode Opcode, data []byte) error {
	var hdr []byte
	b0 := byte(opcode) & 0x0f
	if fin {
		b0 |= 0x80
	}
	if rsv1 {
		b0 |= 0x40
	}
	n := len(data)
	switch {
	case n <= 125:
		hdr = []byte{b0, byte(n)}
	case n <= 0xffff:
		hdr = make([]byte, 4)
		hdr[0] = b0
		hdr[1] = 126
		binary.BigEndian.PutUint16(hdr[2:], uint16(n))
	default:
		hdr = make([]byte, 10)
		hdr[0] = b0
		hdr[1] = 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(n))
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if n > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// WriteClose serializes a CLOSE frame with the given code and reason.
func WriteClose(w io.Writer, code int, reason string) error {
	if code == 0 {
		return WriteFrame(w, true, false, OpClose, nil)
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload[:2], uint16(code))
	copy(payload[2:], reason)
	return WriteFrame(w, true, false, OpClose, payload)
}

// ReplyCloseCode implements spec.md §4.4's CLOSE echo rule: 1000 for a
// conformant received code, 1002 for a reserved/unassigned one.
func ReplyCloseCode(received int) int {
	if isConformantCloseCode(received) {
		return 1000
	}
	return 1002
}

func isConformantCloseCode(code int) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1011:
		return true
	case code >= 3000:
		return true
	}
	return false
}
