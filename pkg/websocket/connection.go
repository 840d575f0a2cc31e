package websocket

import (
	"io"
	"net"
	"time"

	"github.com/nodecore/triproto/pkg/httpmsg"
	"github.com/nodecore/triproto/pkg/logging"
)

// lifecycle mirrors spec.md §3's WebSocket Connection State lifecycle.
type lifecycle int

const (
	lifecycleOpen lifecycle = iota
	lifecycleClosing
	lifecycleClosed
)

// Connection is one upgraded WebSocket connection (spec.md §4.4): frame
// extractor + message reassembler + compression context + close-handshake
// driver, single-threaded per connection (spec.md §5).
type Connection struct {
	conn    net.Conn
	r       io.Reader
	handler httpmsg.SocketHandler
	opts    Options
	deflate *DeflateContext

	frag      reassembler
	lifecycle lifecycle
	inbox     chan any
	log       *logging.Logger
}

// New constructs a Connection bound to conn (for writes/deadlines) and r
// (for reads — typically conn's already-buffered reader, so bytes read
// ahead during the HTTP/1 upgrade aren't lost).
func New(conn net.Conn, r io.Reader, handler httpmsg.SocketHandler, opts Options, deflate *DeflateContext) *Connection {
	return &Connection{
		conn:    conn,
		r:       r,
		handler: handler,
		opts:    opts,
		deflate: deflate,
		inbox:   make(chan any, 16),
		log:     logging.New("websocket"),
	}
}

// Push delivers msg to the connection's handle_info callback. Safe to call
// from any goroutine (spec.md §5: "delivered via message passing and
// serialized by the connection task").
func (c *Connection) Push(msg any) {
	if c.lifecycle == lifecycleClosed {
		return
	}
	select {
	case c.inbox <- msg:
	default:
	}
}

type frameOrErr struct {
	frame *Frame
	err   error
}

// Run drives the connection until it closes (spec.md §4.4). handlerOpts is
// passed to the handler's Init callback.
func (c *Connection) Run(handlerOpts any) error {
	state, err := c.handler.Init(handlerOpts)
	if err != nil {
		return err
	}

	frames := make(chan frameOrErr, 4)
	done := make(chan struct{})
	go c.readLoop(frames, done)
	defer close(done)

	for {
		select {
		case fe := <-frames:
			if fe.err != nil {
				return c.terminate(fe.err, state)
			}
			var act httpmsg.Action
			act, state, err = c.handleFrame(fe.frame, state)
			if err != nil {
				return c.terminate(err, state)
			}
			if stop, serr := c.applyAction(act, state); stop {
				return serr
			}
		case msg := <-c.inbox:
			act, newState, herr := c.handler.HandleInfo(msg, state)
			state = newState
			if herr != nil {
				return c.terminate(herr, state)
			}
			if stop, serr := c.applyAction(act, state); stop {
				return serr
			}
		}
	}
}

func (c *Connection) readLoop(out chan<- frameOrErr, done <-chan struct{}) {
	for {
		if c.opts.Timeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.Timeout))
		}
		f, err := ReadFrame(c.r, c.opts.MaxFrameSize)
		select {
		case out <- frameOrErr{frame: f, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// handleFrame implements spec.md §4.4's "Message assembly and dispatch".
func (c *Connection) handleFrame(f *Frame, state any) (httpmsg.Action, any, error) {
	switch f.Opcode {
	case OpPing:
		_ = WriteFrame(c.conn, true, false, OpPong, f.Data)
		return c.dispatchControl(f.Data, httpmsg.OpPing, state)
	case OpPong:
		return c.dispatchControl(f.Data, httpmsg.OpPong, state)
	case OpClose:
		return c.handleClose(f, state)
	case OpText, OpBinary:
		return c.handleData(f, state)
	case OpContinuation:
		return c.handleContinuation(f, state)
	default:
		return httpmsg.Action{Kind: httpmsg.ActionOK}, state, nil
	}
}

// dispatchControl calls the handler's control callback and returns its
// action, new state and error unchanged.
func (c *Connection) dispatchControl(data []byte, op httpmsg.Opcode, state any) (httpmsg.Action, any, error) {
	act, newState, err := c.handler.HandleControl(data, op, state)
	return act, newState, err
}

func (c *Connection) handleData(f *Frame, state any) (httpmsg.Action, any, error) {
	// feedInitial rejects a new TEXT/BINARY frame while a fragment is
	// already open (I7), whether or not this frame itself is fragmented.
	if err := c.frag.feedInitial(f.Opcode, f.Data); err != nil {
		return httpmsg.Action{}, state, err
	}
	if !f.Fin {
		return httpmsg.Action{Kind: httpmsg.ActionOK}, state, nil
	}
	opcode, data := c.frag.take()
	return c.dispatchMessage(opcode, data, f.RSV1, state)
}

func (c *Connection) handleContinuation(f *Frame, state any) (httpmsg.Action, any, error) {
	if err := c.frag.feedContinuation(f.Data); err != nil {
		return httpmsg.Action{}, state, err
	}
	if !f.Fin {
		return httpmsg.Action{Kind: httpmsg.ActionOK}, state, nil
	}
	opcode, data := c.frag.take()
	return c.dispatchMessage(opcode, data, f.RSV1, state)
}

// dispatchMessage inflates (if compressed), validates UTF-8 (if TEXT), and
// hands the assembled message to the handler.
func (c *Connection) dispatchMessage(opcode Opcode, data []byte, compressed bool, state any) (httpmsg.Action, any, error) {
	if compressed {
		if c.deflate == nil {
			return httpmsg.Action{}, state, perr(1002, "rsv1 set without negotiated permessage-deflate")
		}
		inflated, err := c.deflate.Inflate(data)
		if err != nil {
			return httpmsg.Action{}, state, perr(1007, err.Error())
		}
		data = inflated
	}
	if opcode == OpText && c.opts.ValidateTextFrames {
		if !validateUTF8(data) {
			return httpmsg.Action{}, state, perr(1007, "invalid UTF-8 in text frame")
		}
	}
	hop := httpmsg.OpBinary
	if opcode == OpText {
		hop = httpmsg.OpText
	}
	act, newState, err := c.handler.HandleIn(data, hop, state)
	return act, newState, err
}

// handleClose implements the close handshake reply-code rule (spec.md
// §4.4).
func (c *Connection) handleClose(f *Frame, state any) (httpmsg.Action, any, error) {
	reply := WSCloseNormal
	if f.Code != 0 {
		reply = ReplyCloseCode(f.Code)
	}
	if c.lifecycle == lifecycleOpen {
		c.lifecycle = lifecycleClosing
		_ = WriteClose(c.conn, reply, "")
	}
	return httpmsg.Action{Kind: httpmsg.ActionStop, StopCode: reply}, state, nil
}

// applyAction writes any handler-pushed messages and returns (true, err)
// when the connection should stop.
func (c *Connection) applyAction(act httpmsg.Action, state any) (bool, error) {
	switch act.Kind {
	case httpmsg.ActionPush:
		for _, m := range act.Messages {
			if err := c.sendMessage(m); err != nil {
				return true, err
			}
		}
		return false, nil
	case httpmsg.ActionStop:
		if c.lifecycle == lifecycleOpen {
			c.lifecycle = lifecycleClosing
			code := act.StopCode
			if code == 0 {
				code = WSCloseNormal
			}
			_ = WriteClose(c.conn, code, act.StopMsg)
		}
		c.lifecycle = lifecycleClosed
		c.handler.Terminate(nil, state)
		return true, nil
	default:
		return false, nil
	}
}

// sendMessage writes one handler-pushed outbound message, applying
// permessage-deflate when eligible (spec.md §4.4 "Outbound").
func (c *Connection) sendMessage(m httpmsg.OutMessage) error {
	switch m.Opcode {
	case httpmsg.OpPing:
		return WriteFrame(c.conn, true, false, OpPing, m.Data)
	case httpmsg.OpPong:
		return WriteFrame(c.conn, true, false, OpPong, m.Data)
	}
	opcode := OpBinary
	if m.Opcode == httpmsg.OpText {
		opcode = OpText
	}
	data := m.Data
	rsv1 := false
	if c.deflate != nil && c.opts.Compress {
		compressed, err := c.deflate.Deflate(data)
		if err == nil {
			data = compressed
			rsv1 = true
		}
	}
	return WriteFrame(c.conn, true, rsv1, opcode, data)
}

// terminate finalizes the connection on a read error or protocol
// violation (spec.md §4.4 "Shutdown").
func (c *Connection) terminate(err error, state any) error {
	if c.lifecycle != lifecycleClosed {
		c.lifecycle = lifecycleClosed
		if _, ok := err.(*protocolErr); ok {
			_ = WriteClose(c.conn, CloseCode(err), "")
		}
		// Any other error (a transport EOF/reset, or an error returned by
		// a handler callback) writes nothing to the wire and is passed to
		// the handler's Terminate as is; no 1006 close code is attached.
	}
	if c.deflate != nil {
		c.deflate.Close()
	}
	c.handler.Terminate(err, state)
	return err
}
