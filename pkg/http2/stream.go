package http2

import (
	"sync"

	"github.com/nodecore/triproto/pkg/httpmsg"
)

// StreamState is the server-side view of RFC 9113 §5.1's stream state
// machine. Streams here are always client-initiated (push is disabled, per
// spec.md §4.3's Non-goals), so reserved states never occur.
type StreamState int

const (
	StreamOpen StreamState = iota
	StreamHalfClosedRemote // client sent END_STREAM; we may still send
	StreamHalfClosedLocal  // we sent END_STREAM; client may still send
	StreamClosed
)

// Stream is one HTTP/2 request/response exchange (spec.md §3's Stream
// type).
type Stream struct {
	id   uint32
	conn *Connection

	mu    sync.Mutex
	state StreamState

	request *httpmsg.Request

	bodyCh  chan []byte
	bodyErr error
	bodyEOF bool

	sendWindow int32
	sendCond   *sync.Cond

	recvWindow int32

	respHeadersSent bool
	endStreamSent   bool
}

func newStream(id uint32, conn *Connection, initialSendWindow, initialRecvWindow int32) *Stream {
	s := &Stream{
		id:         id,
		conn:       conn,
		state:      StreamOpen,
		bodyCh:     make(chan []byte, 8),
		sendWindow: initialSendWindow,
		recvWindow: initialRecvWindow,
	}
	s.sendCond = sync.NewCond(&s.mu)
	return s
}

// onEndStreamRecv marks the stream half-closed on the remote side, called
// once END_STREAM is observed on HEADERS or DATA.
func (s *Stream) onEndStreamRecv() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StreamOpen:
		s.state = StreamHalfClosedRemote
	case StreamHalfClosedLocal:
		s.state = StreamClosed
	}
}

// onEndStreamSent marks the stream half-closed on the local side, called
// once we send a frame with END_STREAM set.
func (s *Stream) onEndStreamSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endStreamSent = true
	switch s.state {
	case StreamOpen:
		s.state = StreamHalfClosedLocal
	case StreamHalfClosedRemote:
		s.state = StreamClosed
	}
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StreamClosed
}

// pushBody delivers one DATA frame's payload to the stream's body reader.
func (s *Stream) pushBody(p []byte) {
	if len(p) == 0 {
		return
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	s.bodyCh <- buf
}

// closeBody signals end-of-body (END_STREAM on DATA, or on HEADERS with no
// body) or an error (RST_STREAM from the peer, connection teardown).
func (s *Stream) closeBody(err error) {
	s.mu.Lock()
	if s.bodyEOF {
		s.mu.Unlock()
		return
	}
	s.bodyEOF = true
	s.bodyErr = err
	s.mu.Unlock()
	close(s.bodyCh)
}

// addSendWindow applies a WINDOW_UPDATE increment from the peer, waking any
// writer blocked on flow control.
func (s *Stream) addSendWindow(n int32) {
	s.mu.Lock()
	s.sendWindow += n
	s.mu.Unlock()
	s.sendCond.Broadcast()
}

// reserveSendWindow blocks until at least one byte of stream-level send
// window is available (or the stream closes), then atomically debits up to
// want bytes and returns the amount reserved.
func (s *Stream) reserveSendWindow(want int32) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.sendWindow <= 0 && s.state != StreamClosed {
		s.sendCond.Wait()
	}
	if s.sendWindow <= 0 {
		return 0
	}
	n := want
	if n > s.sendWindow {
		n = s.sendWindow
	}
	s.sendWindow -= n
	return n
}
