package websocket

import (
	"bytes"
	"testing"
)

// clientFrame builds a masked client->server frame the way a real browser
// would, so ReadFrame's masking/unmasking path (P4) is exercised.
func clientFrame(t *testing.T, fin bool, opcode Opcode, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}
	buf.WriteByte(b0)

	key := [4]byte{0x11, 0x22, 0x33, 0x44}
	masked := append([]byte(nil), payload...)
	maskBytes(key, masked)

	n := len(payload)
	switch {
	case n <= 125:
		buf.WriteByte(0x80 | byte(n))
	case n <= 0xffff:
		buf.WriteByte(0x80 | 126)
		buf.WriteByte(byte(n >> 8))
		buf.WriteByte(byte(n))
	default:
		t.Fatalf("test helper doesn't support 64-bit lengths")
	}
	buf.Write(key[:])
	buf.Write(masked)
	return buf.Bytes()
}

func TestReadFrameUnmasksClientPayload(t *testing.T) {
	raw := clientFrame(t, true, OpText, []byte("hello"))
	f, err := ReadFrame(bytes.NewReader(raw), 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Opcode != OpText || !f.Fin {
		t.Errorf("unexpected frame: %+v", f)
	}
	if string(f.Data) != "hello" {
		t.Errorf("expected unmasked payload %q, got %q", "hello", f.Data)
	}
}

func TestReadFrameRejectsUnmaskedClientFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x80 | byte(OpText))
	buf.WriteByte(5) // length 5, mask bit clear
	buf.WriteString("hello")

	if _, err := ReadFrame(&buf, 0); err == nil {
		t.Fatalf("expected error for unmasked client frame")
	} else if CloseCode(err) != 1002 {
		t.Errorf("expected close code 1002, got %d", CloseCode(err))
	}
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	raw := clientFrame(t, true, OpBinary, make([]byte, 200))
	if _, err := ReadFrame(bytes.NewReader(raw), 100); err == nil {
		t.Fatalf("expected frame-too-large error")
	} else if CloseCode(err) != 1009 {
		t.Errorf("expected close code 1009, got %d", CloseCode(err))
	}
}

func TestReadFrameRejectsFragmentedControlFrame(t *testing.T) {
	raw := clientFrame(t, false, OpPing, []byte("x"))
	if _, err := ReadFrame(bytes.NewReader(raw), 0); err == nil {
		t.Fatalf("expected error for fragmented control frame")
	}
}

func TestWriteFrameWritesUnmaskedServerFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, true, false, OpBinary, []byte("server payload")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	// Server->client frames are unmasked, so the raw bytes can be parsed
	// directly with the standard header-field layout.
	hdr := buf.Bytes()
	if hdr[0]&0x0f != byte(OpBinary) {
		t.Errorf("opcode mismatch")
	}
	if hdr[1]&0x80 != 0 {
		t.Errorf("server frame must not set the mask bit")
	}
}

func TestMaskBytesIsAnInvolution(t *testing.T) {
	key := [4]byte{9, 8, 7, 6}
	original := []byte("round trip me")
	data := append([]byte(nil), original...)

	maskBytes(key, data)
	if bytes.Equal(data, original) {
		t.Fatalf("masking did not change the payload")
	}
	maskBytes(key, data)
	if !bytes.Equal(data, original) {
		t.Fatalf("double masking did not restore the original payload")
	}
}

func TestReassemblerOrdersFragments(t *testing.T) {
	var r reassembler
	if err := r.feedInitial(OpText, []byte("hel")); err != nil {
		t.Fatalf("feedInitial: %v", err)
	}
	if err := r.feedContinuation([]byte("lo")); err != nil {
		t.Fatalf("feedContinuation: %v", err)
	}
	if err := r.feedContinuation([]byte(" world")); err != nil {
		t.Fatalf("feedContinuation: %v", err)
	}
	op, data := r.take()
	if op != OpText || string(data) != "hello world" {
		t.Errorf("expected assembled %q, got opcode=%v data=%q", "hello world", op, data)
	}
}

func TestReassemblerRejectsOverlappingFragment(t *testing.T) {
	var r reassembler
	if err := r.feedInitial(OpText, []byte("a")); err != nil {
		t.Fatalf("feedInitial: %v", err)
	}
	if err := r.feedInitial(OpText, []byte("b")); err == nil {
		t.Fatalf("expected error starting a new fragment while one is open")
	}
}

func TestReplyCloseCode(t *testing.T) {
	cases := []struct {
		received int
		want     int
	}{
		{1000, 1000},
		{1001, 1000},
		{1008, 1000},
		{1005, 1002}, // reserved, never sent on the wire
		{2999, 1002}, // unassigned range
		{3000, 1000},
	}
	for _, c := range cases {
		if got := ReplyCloseCode(c.received); got != c.want {
			t.Errorf("ReplyCloseCode(%d) = %d, want %d", c.received, got, c.want)
		}
	}
}
