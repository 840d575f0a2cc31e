package http2

import (
	"io"
	"os"

	"github.com/nodecore/triproto/pkg/httpmsg"
	"github.com/nodecore/triproto/pkg/transport"
)

// Http2Transport implements transport.Transport for one stream (spec.md §2,
// §9: "one HTTP/2 Transport exists per stream"). Writes to the underlying
// connection are serialized by Connection.wmu; flow control is enforced
// here against both the stream and connection send windows.
type Http2Transport struct {
	conn *Connection
	st   *Stream
}

func newTransport(conn *Connection, st *Stream) *Http2Transport {
	return &Http2Transport{conn: conn, st: st}
}

// ReadRequest returns the Request already parsed from the HEADERS frame
// that started this stream (Connection.finishHeaderBlock builds it before
// the stream's goroutine, and therefore this transport, exists).
func (t *Http2Transport) ReadRequest() (*httpmsg.Request, error) {
	return t.st.request, nil
}

// SendHeaders encodes status+headers via the connection's HPACK encoder and
// writes a HEADERS frame, continued across CONTINUATION frames if the
// encoded block exceeds the peer's max_frame_size.
func (t *Http2Transport) SendHeaders(status int, headers httpmsg.Headers, disposition transport.Disposition) error {
	block, err := t.conn.hpack.Encode(status, headers)
	if err != nil {
		return err
	}

	endStream := disposition == transport.DispositionNoBody
	// DispositionInform (1xx) never ends the stream, matching spec.md §4.2.

	maxFrame := int(t.conn.peer.MaxFrameSize)
	if maxFrame <= 0 {
		maxFrame = 16384
	}

	t.conn.wmu.Lock()
	defer t.conn.wmu.Unlock()

	if len(block) <= maxFrame {
		if err := BuildHeadersFrame(t.conn.conn, t.st.id, block, endStream, true); err != nil {
			return err
		}
	} else {
		first, rest := block[:maxFrame], block[maxFrame:]
		if err := BuildHeadersFrame(t.conn.conn, t.st.id, first, endStream, false); err != nil {
			return err
		}
		for len(rest) > maxFrame {
			if err := BuildContinuationFrame(t.conn.conn, t.st.id, rest[:maxFrame], false); err != nil {
				return err
			}
			rest = rest[maxFrame:]
		}
		if err := BuildContinuationFrame(t.conn.conn, t.st.id, rest, true); err != nil {
			return err
		}
	}

	t.st.respHeadersSent = true
	if endStream {
		t.st.onEndStreamSent()
	}
	return nil
}

// SendData writes body bytes as one or more flow-controlled DATA frames.
func (t *Http2Transport) SendData(p []byte, end bool) error {
	if err := t.writeDataFrames(p); err != nil {
		return err
	}
	if end {
		t.conn.wmu.Lock()
		err := BuildDataFrame(t.conn.conn, t.st.id, nil, true)
		t.conn.wmu.Unlock()
		if err != nil {
			return err
		}
		t.st.onEndStreamSent()
	}
	return nil
}

// SendChunk writes one chunk of a chunk-encoded body; HTTP/2 has no chunked
// transfer-encoding concept, so a chunk is just a DATA frame, and a nil/
// empty chunk closes the stream exactly like SendData(nil, true).
func (t *Http2Transport) SendChunk(p []byte) error {
	if len(p) == 0 {
		return t.SendData(nil, true)
	}
	return t.writeDataFrames(p)
}

// writeDataFrames splits p into frames bounded by the peer's
// max_frame_size and the stream/connection send windows, blocking as
// needed (RFC 9113 §6.9).
func (t *Http2Transport) writeDataFrames(p []byte) error {
	maxFrame := int(t.conn.peer.MaxFrameSize)
	if maxFrame <= 0 {
		maxFrame = 16384
	}
	for len(p) > 0 {
		if t.st.isClosed() {
			return io.ErrClosedPipe
		}
		want := len(p)
		if want > maxFrame {
			want = maxFrame
		}
		n := t.st.reserveSendWindow(int32(want))
		if n == 0 {
			return io.ErrClosedPipe // stream closed while waiting for window
		}
		n = t.conn.reserveConnSendWindow(n)
		if n == 0 {
			return io.ErrClosedPipe // connection closed while waiting for window
		}
		chunk := p[:n]
		t.conn.wmu.Lock()
		err := BuildDataFrame(t.conn.conn, t.st.id, chunk, false)
		t.conn.wmu.Unlock()
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// SendFile streams length bytes of path as the response body.
func (t *Http2Transport) SendFile(path string, offset, length int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
	}
	buf := make([]byte, 32*1024)
	remaining := length
	for remaining > 0 {
		want := int64(len(buf))
		if want > remaining {
			want = remaining
		}
		n, rerr := f.Read(buf[:want])
		if n > 0 {
			if werr := t.writeDataFrames(buf[:n]); werr != nil {
				return werr
			}
			remaining -= int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return rerr
		}
	}
	return t.SendData(nil, true)
}

// EnsureCompleted drains any unread request body (mirrors pkg/http1's
// contract; on HTTP/2 this means reading bodyCh to closure so the stream's
// goroutine doesn't leak waiting for a reader that never came).
func (t *Http2Transport) EnsureCompleted() error {
	return t.st.request.Body.Discard()
}

// Keepalive is always false: an HTTP/2 stream is one-shot, and the
// connection (not the stream) decides whether to keep accepting streams.
func (t *Http2Transport) Keepalive() bool { return false }

// Close is a no-op; the owning Connection tracks stream lifecycle and tears
// streams down itself (on RST_STREAM, GOAWAY, or normal completion).
func (t *Http2Transport) Close() error { return nil }

// streamBody adapts a Stream's body channel to httpmsg.BodyReader.
type streamBody struct {
	st  *Stream
	buf []byte
}

func newStreamBody(st *Stream) *streamBody { return &streamBody{st: st} }

func (b *streamBody) Read(p []byte) (int, error) {
	for len(b.buf) == 0 {
		chunk, ok := <-b.st.bodyCh
		if !ok {
			b.st.mu.Lock()
			err := b.st.bodyErr
			b.st.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		b.buf = chunk
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	return n, nil
}

// Discard drains the remainder of the body without copying it anywhere.
func (b *streamBody) Discard() error {
	for {
		if _, err := b.Read(make([]byte, 4096)); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
