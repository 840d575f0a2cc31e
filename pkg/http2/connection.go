package http2

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/nodecore/triproto/pkg/buffer"
	"github.com/nodecore/triproto/pkg/constants"
	"github.com/nodecore/triproto/pkg/errors"
	"github.com/nodecore/triproto/pkg/httpmsg"
	"github.com/nodecore/triproto/pkg/logging"
	"github.com/nodecore/triproto/pkg/pipeline"
	"github.com/nodecore/triproto/pkg/transport"
)

// Connection is one HTTP/2 connection (spec.md §4.3): frame reader, HPACK
// collaborator, per-stream goroutines, flow control and connection
// lifecycle (SETTINGS, PING, GOAWAY). The connection preface is assumed
// already consumed by the caller (spec.md §4.1's Protocol Dispatcher peeks
// it to pick this transport in the first place).
type Connection struct {
	conn net.Conn
	br   *bufio.Reader
	opts Options
	h    httpmsg.Handler
	log  *logging.Logger

	hpack *HeaderCodec

	wmu sync.Mutex // serializes all frame writes, including per-stream DATA

	mu              sync.Mutex
	streams         map[uint32]*Stream
	highestStreamID uint32
	goAwaySent      bool
	peer            Settings

	connSendMu   sync.Mutex
	connSendCond *sync.Cond
	connSendWin  int32
	closed       bool

	connRecvWin int32

	pendingStreamID uint32
	pendingBuf      *buffer.Accumulator
	pendingEnd      bool
	inHeaderBlock   bool

	wg sync.WaitGroup
}

// NewConnection constructs a Connection ready to Serve.
func NewConnection(conn net.Conn, br *bufio.Reader, opts Options, h httpmsg.Handler) *Connection {
	c := &Connection{
		conn:        conn,
		br:          br,
		opts:        opts,
		h:           h,
		log:         logging.New("http2"),
		hpack:       NewHeaderCodec(opts.HeaderTableSize),
		streams:     make(map[uint32]*Stream),
		peer:        defaultPeerSettings(),
		connSendWin: int32(defaultPeerSettings().InitialWindowSize),
		connRecvWin: int32(opts.InitialWindowSize),
	}
	c.connSendCond = sync.NewCond(&c.connSendMu)
	return c
}

// Serve drives the connection until it closes. It sends the initial
// SETTINGS frame, then loops reading and dispatching frames until a fatal
// error, GOAWAY condition, or peer disconnect.
func (c *Connection) Serve() error {
	c.wmu.Lock()
	err := BuildSettingsFrame(c.conn, localSettingsList(c.opts))
	c.wmu.Unlock()
	if err != nil {
		return errors.NewTransportError("http2_initial_settings", err)
	}

	for {
		f, err := ReadRawFrame(c.br, c.opts.MaxFrameSize)
		if err != nil {
			c.teardown(err)
			c.wg.Wait()
			if err == io.EOF {
				return nil
			}
			return errors.NewTransportError("http2_read_frame", err)
		}

		if err := c.dispatch(f); err != nil {
			if code, ok := asConnError(err); ok {
				c.sendGoAway(code)
				c.teardown(err)
				c.wg.Wait()
				return err
			}
			if streamID, code, ok := asStreamError(err); ok {
				c.wmu.Lock()
				_ = BuildRSTStreamFrame(c.conn, streamID, code)
				c.wmu.Unlock()
				c.closeStream(streamID, err)
				continue
			}
			c.teardown(err)
			c.wg.Wait()
			return err
		}
	}
}

func (c *Connection) dispatch(f *RawFrame) error {
	// RFC 9113 §4.3: HEADERS/CONTINUATION for one stream must be contiguous;
	// any other frame type while a header block is in progress is a
	// connection error.
	if c.inHeaderBlock && f.Header.Type != FrameContinuation {
		return NewConnError(constants.H2ProtocolError, "frame interleaved within a header block")
	}

	switch f.Header.Type {
	case FrameHeaders:
		return c.handleHeaders(f)
	case FrameContinuation:
		return c.handleContinuation(f)
	case FrameData:
		return c.handleData(f)
	case FramePriority:
		return ParsePriorityFrame(f)
	case FrameRSTStream:
		return c.handleRSTStream(f)
	case FrameSettings:
		return c.handleSettings(f)
	case FramePing:
		return c.handlePing(f)
	case FrameGoAway:
		return c.handleGoAway(f)
	case FrameWindowUpdate:
		return c.handleWindowUpdate(f)
	case FramePushPromise:
		return NewConnError(constants.H2ProtocolError, "PUSH_PROMISE not accepted by a server")
	default:
		return nil // unknown frame types are ignored (RFC 9113 §4.1)
	}
}

func (c *Connection) handleHeaders(f *RawFrame) error {
	hp, err := ParseHeadersFrame(f)
	if err != nil {
		return err
	}
	id := f.Header.StreamID
	if id <= c.highestStreamID || id%2 == 0 {
		return NewConnError(constants.H2ProtocolError, "invalid or reused stream id in HEADERS")
	}

	c.mu.Lock()
	if uint32(len(c.streams)) >= c.opts.MaxConcurrentStreams {
		c.mu.Unlock()
		return NewStreamError(id, constants.H2RefusedStream, "max_concurrent_streams exceeded")
	}
	c.highestStreamID = id
	c.mu.Unlock()

	if hp.EndHeaders {
		return c.finishHeaderBlock(id, hp.HeaderBlockFragment, hp.EndStream)
	}
	c.inHeaderBlock = true
	c.pendingStreamID = id
	c.pendingBuf = buffer.NewAccumulator()
	c.pendingBuf.Write(hp.HeaderBlockFragment)
	c.pendingEnd = hp.EndStream
	if c.pendingBuf.Len() > c.opts.MaxHeaderBlockSize {
		return NewConnError(constants.H2CompressionError, "header block exceeds max_header_block_size")
	}
	return nil
}

func (c *Connection) handleContinuation(f *RawFrame) error {
	if !c.inHeaderBlock || f.Header.StreamID != c.pendingStreamID {
		return NewConnError(constants.H2ProtocolError, "CONTINUATION without a matching in-progress HEADERS")
	}
	frag, end, err := ParseContinuationFrame(f)
	if err != nil {
		return err
	}
	c.pendingBuf.Write(frag)
	if c.pendingBuf.Len() > c.opts.MaxHeaderBlockSize {
		return NewConnError(constants.H2CompressionError, "header block exceeds max_header_block_size")
	}
	if !end {
		return nil
	}
	id, buf, endStream := c.pendingStreamID, c.pendingBuf.Take(), c.pendingEnd
	c.inHeaderBlock = false
	c.pendingBuf = nil
	return c.finishHeaderBlock(id, buf, endStream)
}

// finishHeaderBlock decodes a complete header block and starts the stream.
func (c *Connection) finishHeaderBlock(id uint32, block []byte, endStream bool) error {
	dh, err := c.hpack.Decode(block)
	if err != nil {
		return err
	}

	st := newStream(id, c, int32(c.peer.InitialWindowSize), int32(c.opts.InitialWindowSize))
	c.mu.Lock()
	c.streams[id] = st
	c.mu.Unlock()

	req := &httpmsg.Request{
		Method:    dh.Method,
		Target:    dh.Path,
		Path:      pathOnly(dh.Path),
		Query:     queryOnly(dh.Path),
		Scheme:    dh.Scheme,
		Authority: dh.Authority,
		Headers:   dh.Headers,
		PeerAddr:  c.conn.RemoteAddr(),
		Version:   "HTTP/2",
		StreamID:  id,
	}
	if endStream {
		st.onEndStreamRecv()
		st.closeBody(io.EOF)
	}
	req.Body = newStreamBody(st)
	st.request = req

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runStream(st, req)
	}()
	return nil
}

func (c *Connection) runStream(st *Stream, req *httpmsg.Request) {
	tr := newTransport(c, st)
	_, err := pipeline.Run(tr, c.h, pipeline.Options{Disposable: false})
	if err != nil {
		c.log.Warnf("stream %d: %v", st.id, err)
	}
	if !st.respHeadersSent {
		_ = tr.SendHeaders(500, nil, transport.DispositionNoBody)
	} else if !st.endStreamSent {
		_ = tr.SendData(nil, true)
	}
	c.closeStream(st.id, nil)
}

func (c *Connection) handleData(f *RawFrame) error {
	dp, err := ParseDataFrame(f)
	if err != nil {
		return err
	}
	id := f.Header.StreamID
	c.mu.Lock()
	st, ok := c.streams[id]
	c.mu.Unlock()

	n := int32(f.Header.Length)
	c.connRecvWin -= n
	if !ok {
		return nil // stream already closed; DATA for it is ignored
	}
	st.mu.Lock()
	st.recvWindow -= n
	needsTopUp := st.recvWindow < int32(c.opts.InitialWindowSize)/2
	st.mu.Unlock()

	st.pushBody(dp.Data)
	if f.Header.Flags&FlagEndStream != 0 {
		st.onEndStreamRecv()
		st.closeBody(io.EOF)
	}

	if needsTopUp {
		c.wmu.Lock()
		_ = BuildWindowUpdateFrame(c.conn, id, c.opts.InitialWindowSize/2)
		_ = BuildWindowUpdateFrame(c.conn, 0, c.opts.InitialWindowSize/2)
		c.wmu.Unlock()
		st.mu.Lock()
		st.recvWindow += int32(c.opts.InitialWindowSize) / 2
		st.mu.Unlock()
		c.connRecvWin += int32(c.opts.InitialWindowSize) / 2
	}
	return nil
}

func (c *Connection) handleRSTStream(f *RawFrame) error {
	code, err := ParseRSTStreamFrame(f)
	if err != nil {
		return err
	}
	c.closeStream(f.Header.StreamID, NewStreamError(f.Header.StreamID, code, "reset by peer"))
	return nil
}

func (c *Connection) handleSettings(f *RawFrame) error {
	settings, ack, err := ParseSettingsFrame(f)
	if err != nil {
		return err
	}
	if ack {
		return nil
	}
	for _, s := range settings {
		if err := c.peer.apply(s.ID, s.Value); err != nil {
			return err
		}
		if s.ID == constants.SettingHeaderTableSize {
			c.hpack.SetPeerTableSize(s.Value)
		}
	}
	c.wmu.Lock()
	err = BuildSettingsAck(c.conn)
	c.wmu.Unlock()
	return err
}

func (c *Connection) handlePing(f *RawFrame) error {
	data, ack, err := ParsePingFrame(f)
	if err != nil {
		return err
	}
	if ack {
		return nil
	}
	c.wmu.Lock()
	err = BuildPingFrame(c.conn, data, true)
	c.wmu.Unlock()
	return err
}

func (c *Connection) handleGoAway(f *RawFrame) error {
	_, err := ParseGoAwayFrame(f)
	if err != nil {
		return err
	}
	return io.EOF // peer is shutting down; treat as a clean end of the loop
}

func (c *Connection) handleWindowUpdate(f *RawFrame) error {
	inc, err := ParseWindowUpdateFrame(f)
	if err != nil {
		return err
	}
	if f.Header.StreamID == 0 {
		c.connSendMu.Lock()
		c.connSendWin += int32(inc)
		c.connSendMu.Unlock()
		c.connSendCond.Broadcast()
		return nil
	}
	c.mu.Lock()
	st, ok := c.streams[f.Header.StreamID]
	c.mu.Unlock()
	if ok {
		st.addSendWindow(int32(inc))
	}
	return nil
}

// reserveConnSendWindow blocks until the connection-level send window has
// budget, or the connection closes, mirroring Stream.reserveSendWindow.
func (c *Connection) reserveConnSendWindow(want int32) int32 {
	c.connSendMu.Lock()
	defer c.connSendMu.Unlock()
	for c.connSendWin <= 0 && !c.closed {
		c.connSendCond.Wait()
	}
	if c.connSendWin <= 0 {
		return 0
	}
	n := want
	if n > c.connSendWin {
		n = c.connSendWin
	}
	c.connSendWin -= n
	return n
}

func (c *Connection) closeStream(id uint32, err error) {
	c.mu.Lock()
	st, ok := c.streams[id]
	if ok {
		delete(c.streams, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.state = StreamClosed
	st.mu.Unlock()
	st.sendCond.Broadcast()
	st.closeBody(err)
}

func (c *Connection) sendGoAway(code uint32) {
	c.mu.Lock()
	if c.goAwaySent {
		c.mu.Unlock()
		return
	}
	c.goAwaySent = true
	last := c.highestStreamID
	c.mu.Unlock()

	c.wmu.Lock()
	_ = BuildGoAwayFrame(c.conn, last, code, nil)
	c.wmu.Unlock()
}

// teardown closes every in-flight stream's body with err so blocked
// per-stream goroutines unwind, then waits for them via Serve's wg.Wait().
// It also wakes any goroutine blocked in reserveConnSendWindow (§5:
// "Connection close: all stream tasks on that connection are terminated"),
// since a connection-level window wait never sees a per-stream close.
func (c *Connection) teardown(err error) {
	c.mu.Lock()
	ids := make([]uint32, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.closeStream(id, err)
	}
	c.connSendMu.Lock()
	c.closed = true
	c.connSendMu.Unlock()
	c.connSendCond.Broadcast()
}

func pathOnly(target string) string {
	for i, r := range target {
		if r == '?' {
			return target[:i]
		}
	}
	return target
}

func queryOnly(target string) string {
	for i, r := range target {
		if r == '?' {
			return target[i+1:]
		}
	}
	return ""
}

