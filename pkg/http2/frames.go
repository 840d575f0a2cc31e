package http2

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nodecore/triproto/pkg/constants"
)

// FrameType is the HTTP/2 frame type octet (RFC 9113 §6).
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

// Frame flag bits (RFC 9113 §6, overloaded per frame type).
const (
	FlagEndStream  byte = 0x1
	FlagAck        byte = 0x1
	FlagEndHeaders byte = 0x4
	FlagPadded     byte = 0x8
	FlagPriority   byte = 0x20
)

// FrameHeader is the 9-byte frame header common to every frame.
type FrameHeader struct {
	Length   uint32 // 24 bits
	Type     FrameType
	Flags    byte
	StreamID uint32 // 31 bits (R bit masked off)
}

const frameHeaderLen = 9

// ReadFrameHeader reads and parses one 9-byte frame header.
func ReadFrameHeader(r io.Reader) (*FrameHeader, error) {
	var b [frameHeaderLen]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, err
	}
	return &FrameHeader{
		Length:   uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		Type:     FrameType(b[3]),
		Flags:    b[4],
		StreamID: binary.BigEndian.Uint32(b[5:9]) & 0x7fffffff,
	}, nil
}

// WriteFrameHeader serializes a 9-byte frame header.
func WriteFrameHeader(w io.Writer, length uint32, typ FrameType, flags byte, streamID uint32) error {
	var b [frameHeaderLen]byte
	b[0] = byte(length >> 16)
	b[1] = byte(length >> 8)
	b[2] = byte(length)
	b[3] = byte(typ)
	b[4] = flags
	binary.BigEndian.PutUint32(b[5:9], streamID&0x7fffffff)
	_, err := w.Write(b[:])
	return err
}

// RawFrame is a frame header plus its unparsed payload, the unit the
// connection read loop works with before dispatching to a type-specific
// parser (spec.md §9: "pure functions on byte slices returning tagged
// variants").
type RawFrame struct {
	Header  FrameHeader
	Payload []byte
}

// ReadRawFrame reads one complete frame, enforcing the peer's advertised
// max_frame_size.
func ReadRawFrame(r io.Reader, maxFrameSize uint32) (*RawFrame, error) {
	hdr, err := ReadFrameHeader(r)
	if err != nil {
		return nil, err
	}
	if hdr.Length > maxFrameSize {
		return nil, NewConnError(constants.H2FrameSizeError, "frame exceeds max_frame_size")
	}
	payload := make([]byte, hdr.Length)
	if hdr.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return &RawFrame{Header: *hdr, Payload: payload}, nil
}

// WriteRawFrame writes a frame header followed by payload.
func WriteRawFrame(w io.Writer, typ FrameType, flags byte, streamID uint32, payload []byte) error {
	if err := WriteFrameHeader(w, uint32(len(payload)), typ, flags, streamID); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// stripPadding implements the padded-frame layout shared by DATA and
// HEADERS (RFC 9113 §6.1/§6.2): [pad_length(1)][data][padding].
func stripPadding(payload []byte, padded bool) (data []byte, padLen int, err error) {
	if !padded {
		return payload, 0, nil
	}
	if len(payload) < 1 {
		return nil, 0, fmt.Errorf("padded frame missing pad length byte")
	}
	padLen = int(payload[0])
	rest := payload[1:]
	// B4: padding may fill everything after the pad-length octet
	// (padLen == len(rest), leaving zero data bytes); a padding length
	// larger than that is a PROTOCOL_ERROR.
	if padLen > len(rest) {
		return nil, 0, NewConnError(constants.H2ProtocolError, "padding length exceeds frame payload")
	}
	return rest[:len(rest)-padLen], padLen, nil
}

// DataPayload is a parsed DATA frame (spec.md §4.3).
type DataPayload struct {
	Data []byte
}

// ParseDataFrame parses a DATA frame's payload.
func ParseDataFrame(f *RawFrame) (*DataPayload, error) {
	if f.Header.StreamID == 0 {
		return nil, NewConnError(constants.H2ProtocolError, "DATA on stream 0")
	}
	data, _, err := stripPadding(f.Payload, f.Header.Flags&FlagPadded != 0)
	if err != nil {
		return nil, err
	}
	return &DataPayload{Data: data}, nil
}

// HeadersPayload is a parsed HEADERS frame (priority is accepted and
// ignored per spec.md §4.3).
type HeadersPayload struct {
	HeaderBlockFragment []byte
	EndStream           bool
	EndHeaders          bool
}

// ParseHeadersFrame parses a HEADERS frame's payload.
func ParseHeadersFrame(f *RawFrame) (*HeadersPayload, error) {
	if f.Header.StreamID == 0 {
		return nil, NewConnError(constants.H2ProtocolError, "HEADERS on stream 0")
	}
	payload, _, err := stripPadding(f.Payload, f.Header.Flags&FlagPadded != 0)
	if err != nil {
		return nil, err
	}
	if f.Header.Flags&FlagPriority != 0 {
		if len(payload) < 5 {
			return nil, NewConnError(constants.H2FrameSizeError, "HEADERS priority field truncated")
		}
		payload = payload[5:] // stream dependency(4) + weight(1), ignored
	}
	return &HeadersPayload{
		HeaderBlockFragment: payload,
		EndStream:  f.Header.Flags&FlagEndStream != 0,
		EndHeaders: f.Header.Flags&FlagEndHeaders != 0,
	}, nil
}

// ParseContinuationFrame parses a CONTINUATION frame's payload.
func ParseContinuationFrame(f *RawFrame) ([]byte, bool, error) {
	if f.Header.StreamID == 0 {
		return nil, false, NewConnError(constants.H2ProtocolError, "CONTINUATION on stream 0")
	}
	return f.Payload, f.Header.Flags&FlagEndHeaders != 0, nil
}

// ParsePriorityFrame validates (and discards) a PRIORITY frame.
func ParsePriorityFrame(f *RawFrame) error {
	if f.Header.StreamID == 0 {
		return NewConnError(constants.H2ProtocolError, "PRIORITY on stream 0")
	}
	if len(f.Payload) != 5 {
		return NewConnError(constants.H2FrameSizeError, "PRIORITY payload must be 5 bytes")
	}
	return nil
}

// ParseRSTStreamFrame returns the stream-level error code.
func ParseRSTStreamFrame(f *RawFrame) (uint32, error) {
	if f.Header.StreamID == 0 {
		return 0, NewConnError(constants.H2ProtocolError, "RST_STREAM on stream 0")
	}
	if len(f.Payload) != 4 {
		return 0, NewConnError(constants.H2FrameSizeError, "RST_STREAM payload must be 4 bytes")
	}
	return binary.BigEndian.Uint32(f.Payload), nil
}

// Setting is one SETTINGS parameter (id, value).
type Setting struct {
	ID    uint16
	Value uint32
}

// ParseSettingsFrame parses a SETTINGS frame's payload.
func ParseSettingsFrame(f *RawFrame) ([]Setting, bool, error) {
	if f.Header.StreamID != 0 {
		return nil, false, NewConnError(constants.H2ProtocolError, "SETTINGS on non-zero stream")
	}
	ack := f.Header.Flags&FlagAck != 0
	if ack {
		if len(f.Payload) != 0 {
			return nil, false, NewConnError(constants.H2FrameSizeError, "SETTINGS ACK with non-empty payload")
		}
		return nil, true, nil
	}
	if len(f.Payload)%6 != 0 {
		return nil, false, NewConnError(constants.H2FrameSizeError, "SETTINGS payload not a multiple of 6")
	}
	var out []Setting
	for i := 0; i+6 <= len(f.Payload); i += 6 {
		out = append(out, Setting{
			ID:    binary.BigEndian.Uint16(f.Payload[i : i+2]),
			Value: binary.BigEndian.Uint32(f.Payload[i+2 : i+6]),
		})
	}
	return out, false, nil
}

// ParsePingFrame returns the 8-byte PING payload and whether it's an ACK.
func ParsePingFrame(f *RawFrame) ([8]byte, bool, error) {
	var data [8]byte
	if f.Header.StreamID != 0 {
		return data, false, NewConnError(constants.H2ProtocolError, "PING on non-zero stream")
	}
	if len(f.Payload) != 8 {
		return data, false, NewConnError(constants.H2FrameSizeError, "PING payload must be 8 bytes")
	}
	copy(data[:], f.Payload)
	return data, f.Header.Flags&FlagAck != 0, nil
}

// GoAwayPayload is a parsed GOAWAY frame.
type GoAwayPayload struct {
	LastStreamID uint32
	ErrorCode    uint32
	Debug        []byte
}

// ParseGoAwayFrame parses a GOAWAY frame's payload.
func ParseGoAwayFrame(f *RawFrame) (*GoAwayPayload, error) {
	if len(f.Payload) < 8 {
		return nil, NewConnError(constants.H2FrameSizeError, "GOAWAY payload too short")
	}
	return &GoAwayPayload{
		LastStreamID: binary.BigEndian.Uint32(f.Payload[0:4]) & 0x7fffffff,
		ErrorCode:    binary.BigEndian.Uint32(f.Payload[4:8]),
		Debug:        f.Payload[8:],
	}, nil
}

// ParseWindowUpdateFrame returns the window size increment.
func ParseWindowUpdateFrame(f *RawFrame) (uint32, error) {
	if len(f.Payload) != 4 {
		return 0, NewConnError(constants.H2FrameSizeError, "WINDOW_UPDATE payload must be 4 bytes")
	}
	return binary.BigEndian.Uint32(f.Payload) & 0x7fffffff, nil
}

// --- builders ---

func BuildDataFrame(w io.Writer, streamID uint32, data []byte, endStream bool) error {
	var flags byte
	if endStream {
		flags |= FlagEndStream
	}
	return WriteRawFrame(w, FrameData, flags, streamID, data)
}

func BuildHeadersFrame(w io.Writer, streamID uint32, headerBlock []byte, endStream, endHeaders bool) error {
	var flags byte
	if endStream {
		flags |= FlagEndStream
	}
	if endHeaders {
		flags |= FlagEndHeaders
	}
	return WriteRawFrame(w, FrameHeaders, flags, streamID, headerBlock)
}

func BuildContinuationFrame(w io.Writer, streamID uint32, headerBlock []byte, endHeaders bool) error {
	var flags byte
	if endHeaders {
		flags |= FlagEndHeaders
	}
	return WriteRawFrame(w, FrameContinuation, flags, streamID, headerBlock)
}

func BuildSettingsFrame(w io.Writer, settings []Setting) error {
	payload := make([]byte, 0, len(settings)*6)
	for _, s := range settings {
		var b [6]byte
		binary.BigEndian.PutUint16(b[0:2], s.ID)
		binary.BigEndian.PutUint32(b[2:6], s.Value)
		payload = append(payload, b[:]...)
	}
	return WriteRawFrame(w, FrameSettings, 0, 0, payload)
}

func BuildSettingsAck(w io.Writer) error {
	return WriteRawFrame(w, FrameSettings, FlagAck, 0, nil)
}

func BuildPingFrame(w io.Writer, data [8]byte, ack bool) error {
	var flags byte
	if ack {
		flags = FlagAck
	}
	return WriteRawFrame(w, FramePing, flags, 0, data[:])
}

func BuildGoAwayFrame(w io.Writer, lastStreamID, errorCode uint32, debug []byte) error {
	payload := make([]byte, 8+len(debug))
	binary.BigEndian.PutUint32(payload[0:4], lastStreamID&0x7fffffff)
	binary.BigEndian.PutUint32(payload[4:8], errorCode)
	copy(payload[8:], debug)
	return WriteRawFrame(w, FrameGoAway, 0, 0, payload)
}

func BuildRSTStreamFrame(w io.Writer, streamID, errorCode uint32) error {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], errorCode)
	return WriteRawFrame(w, FrameRSTStream, 0, streamID, payload[:])
}

func BuildWindowUpdateFrame(w io.Writer, streamID, increment uint32) error {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], increment&0x7fffffff)
	return WriteRawFrame(w, FrameWindowUpdate, 0, streamID, payload[:])
}
