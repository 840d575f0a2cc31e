// Package http1 implements the HTTP/1.0–1.1 state machine (spec.md §4.2):
// request/header parsing, content-length and chunked bodies, keep-alive,
// chunked response streaming, sendfile, and compression negotiation.
package http1

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nodecore/triproto/pkg/errors"
	"github.com/nodecore/triproto/pkg/httpmsg"
	"github.com/nodecore/triproto/pkg/logging"
	"github.com/nodecore/triproto/pkg/transport"
)

// readState mirrors spec.md §3's HTTP/1 Socket State read-state.
type readState int

const (
	stateUnread readState = iota
	stateHeadersRead
	stateRead
)

// writeState mirrors spec.md §3's write-state.
type writeState int

const (
	stateUnsent writeState = iota
	stateWriting
	stateChunking
	stateChunkStreaming
	stateSent
)

// Connection is one HTTP/1 socket state machine, reused across successive
// keep-alive requests (spec.md §3, §4.2).
type Connection struct {
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	opts   Options
	tlsOn  bool
	log    *logging.Logger

	readState  readState
	writeState writeState

	version        string // "1.0" or "1.1"
	reqConnHeader  string
	keepalive      bool
	requestsServed int

	curReq        *httpmsg.Request
	bodyConsumed  bool
	writeStarted  bool
}

// NewConnection wraps conn in an HTTP/1 state machine.
func NewConnection(conn net.Conn, opts Options, tlsOn bool) *Connection {
	return &Connection{
		conn:  conn,
		br:    bufio.NewReaderSize(conn, 4096),
		bw:    bufio.NewWriterSize(conn, 4096),
		opts:  opts,
		tlsOn: tlsOn,
		log:   logging.New("http1"),
	}
}

// BufferedReader exposes the connection's read buffer so a WebSocket
// upgrade (or any protocol handoff) doesn't drop bytes the client already
// sent past the header block.
func (c *Connection) BufferedReader() *bufio.Reader { return c.br }

// Conn exposes the underlying net.Conn (for the WebSocket handoff's write
// side and for deadlines).
func (c *Connection) Conn() net.Conn { return c.conn }

// ReadRequest parses the request line and headers (spec.md §4.2).
func (c *Connection) ReadRequest() (*httpmsg.Request, error) {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}

	line, err := readLine(c.br, c.opts.MaxRequestLineLength, errRequestLineTooLong)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, errors.NewTransportError("read_request_line", err)
		}
		if err == io.EOF {
			return nil, errors.NewTransportError("read_request_line", err)
		}
		return nil, toRequestProtocolError("read_request_line", err)
	}

	rl, err := parseRequestLine(line)
	if err != nil {
		return nil, errors.NewRequestProtocolError("parse_request_line", err.Error(), 400)
	}

	headers, err := readHeaders(c.br, c.opts.MaxHeaderLength, c.opts.MaxHeaderCount)
	if err != nil {
		if err == io.EOF {
			return nil, errors.NewTransportError("read_headers", err)
		}
		return nil, toRequestProtocolError("read_headers", err)
	}

	// I3: content-length AND transfer-encoding together is rejected.
	_, hasCL := headers.Get("content-length")
	_, hasTE := headers.Get("transfer-encoding")
	if hasCL && hasTE {
		return nil, errors.NewRequestProtocolError("validate_framing", "content-length and transfer-encoding both present", 400)
	}

	c.version = rl.Version
	c.reqConnHeader, _ = headers.Get("connection")
	c.keepalive = computeKeepalive(c.version, c.reqConnHeader)

	path, query, scheme, authority := splitTarget(rl.Target, headers, c.tlsOn)

	body, err := c.buildBodyReader(headers, hasTE)
	if err != nil {
		return nil, err
	}

	req := &httpmsg.Request{
		Method:    rl.Method,
		Target:    rl.Target,
		Path:      path,
		Query:     query,
		Scheme:    scheme,
		Authority: authority,
		Headers:   headers,
		Body:      body,
		PeerAddr:  c.conn.RemoteAddr(),
		Version:   "HTTP/" + c.version,
	}
	c.readState = stateHeadersRead
	c.writeState = stateUnsent
	c.writeStarted = false
	c.curReq = req
	c.bodyConsumed = false
	return req, nil
}

func (c *Connection) buildBodyReader(headers httpmsg.Headers, hasTE bool) (httpmsg.BodyReader, error) {
	if hasTE {
		te, _ := headers.Get("transfer-encoding")
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return nil, errors.NewRequestProtocolError("validate_te", "unsupported transfer-encoding", 400)
		}
		return newBodyReader(newChunkedReader(c.br)), nil
	}
	if cl, ok := headers.Get("content-length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, errors.NewRequestProtocolError("validate_content_length", "malformed content-length", 400)
		}
		if n == 0 {
			return emptyBody{}, nil
		}
		return newBodyReader(newIdentityReader(c.br, n)), nil
	}
	return emptyBody{}, nil
}

// computeKeepalive implements invariant I2.
func computeKeepalive(version, connHeader string) bool {
	hasToken := func(tok string) bool {
		for _, part := range strings.Split(connHeader, ",") {
			if strings.EqualFold(strings.TrimSpace(part), tok) {
				return true
			}
		}
		return false
	}
	switch version {
	case "1.1":
		return !hasToken("close")
	case "1.0":
		return hasToken("keep-alive")
	}
	return false
}

// SendHeaders implements spec.md §4.2's send_headers contract.
func (c *Connection) SendHeaders(status int, headers httpmsg.Headers, disposition transport.Disposition) error {
	h := headers.Clone()

	if !h.Has("date") {
		h.Set("date", time.Now().UTC().Format(http1DateFormat))
	}

	switch disposition {
	case transport.DispositionInform:
		// 1xx never touches keep-alive (spec.md §4.2).
		if err := c.writeStatusAndHeaders(status, h); err != nil {
			return err
		}
		return c.bw.Flush()
	case transport.DispositionNoBody:
		c.setConnectionHeader(&h)
		if err := c.writeStatusAndHeaders(status, h); err != nil {
			return err
		}
		c.writeState = stateSent
		return c.bw.Flush()
	case transport.DispositionChunkEncoded:
		if !h.Has("content-length") {
			h.Set("transfer-encoding", "chunked")
		}
		c.setConnectionHeader(&h)
		if err := c.writeStatusAndHeaders(status, h); err != nil {
			return err
		}
		c.writeState = stateChunking
		return c.bw.Flush()
	default: // DispositionRaw
		c.setConnectionHeader(&h)
		if err := c.writeStatusAndHeaders(status, h); err != nil {
			return err
		}
		c.writeState = stateWriting
		return nil
	}
}

func (c *Connection) setConnectionHeader(h *httpmsg.Headers) {
	if c.keepalive {
		if c.version == "1.0" {
			h.Set("connection", "keep-alive")
		}
		// HTTP/1.1 keep-alive is the default; no header needed.
	} else {
		h.Set("connection", "close")
	}
}

func (c *Connection) writeStatusAndHeaders(status int, h httpmsg.Headers) error {
	c.writeStarted = true
	if _, err := fmt.Fprintf(c.bw, "HTTP/%s %d %s\r\n", c.version, status, statusText(status)); err != nil {
		return err
	}
	for _, hd := range h {
		if _, err := fmt.Fprintf(c.bw, "%s: %s\r\n", hd.Name, hd.Value); err != nil {
			return err
		}
	}
	_, err := c.bw.Write([]byte("\r\n"))
	return err
}

// SendData writes a raw (possibly compressed, already length-known) body.
func (c *Connection) SendData(p []byte, end bool) error {
	if len(p) > 0 {
		if _, err := c.bw.Write(p); err != nil {
			return err
		}
	}
	if end {
		c.writeState = stateSent
		return c.bw.Flush()
	}
	return c.bw.Flush()
}

// SendChunk writes one chunk of a chunk-encoded body.
func (c *Connection) SendChunk(p []byte) error {
	if c.writeState != stateChunking && c.writeState != stateChunkStreaming {
		return fmt.Errorf("send_chunk called outside chunk-encoded disposition")
	}
	c.writeState = stateChunkStreaming
	if len(p) == 0 {
		if err := encodeLastChunk(c.bw); err != nil {
			return err
		}
		c.writeState = stateSent
		return c.bw.Flush()
	}
	if err := encodeChunk(c.bw, p); err != nil {
		return err
	}
	return c.bw.Flush()
}

// SendFile sends length bytes of path at offset via the OS sendfile path
// where supported (io.Copy falls back transparently; net.TCPConn.ReadFrom
// invokes sendfile(2) internally on Linux when src is an *os.File).
func (c *Connection) SendFile(path string, offset, length int64) error {
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
	if err := c.bw.Flush(); err != nil {
		return err
	}
	_, err = io.CopyN(c.conn, f, length)
	c.writeState = stateSent
	return err
}

// EnsureCompleted drains any unread request body before the next
// keep-alive cycle (spec.md §4.2).
func (c *Connection) EnsureCompleted() error {
	if c.curReq == nil || c.bodyConsumed {
		return nil
	}
	c.bodyConsumed = true
	if err := c.curReq.Body.Discard(); err != nil {
		return errors.NewTransportError("ensure_completed", err)
	}
	c.readState = stateRead
	return nil
}

// Keepalive reports whether the connection should serve another request.
func (c *Connection) Keepalive() bool {
	if !c.keepalive {
		return false
	}
	if c.opts.MaxRequests > 0 && c.requestsServed >= c.opts.MaxRequests {
		return false
	}
	return true
}

// NoteRequestServed increments the served-request counter and runs the
// configured periodic GC hook (spec.md §4.2, §6 gc_every_n_keepalive_requests).
func (c *Connection) NoteRequestServed() {
	c.requestsServed++
	if c.opts.GCEveryNKeepalive > 0 && c.requestsServed%c.opts.GCEveryNKeepalive == 0 {
		// A systems-language GC hint has no Go analogue worth forcing;
		// runtime.GC() here would be a foot-gun under load, so this is a
		// deliberate no-op retained only as the documented hook point.
	}
}

// WriteStarted reports whether any response bytes have already been
// written for the current request (spec.md §7 failure semantics: "if a
// write already began, just close").
func (c *Connection) WriteStarted() bool { return c.writeStarted }

// Close flushes and closes the underlying connection.
func (c *Connection) Close() error {
	_ = c.bw.Flush()
	return c.conn.Close()
}

const http1DateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

func statusText(code int) string {
	if t, ok := statusTexts[code]; ok {
		return t
	}
	return "Status"
}

var statusTexts = map[int]string{
	100: "Continue", 101: "Switching Protocols",
	200: "OK", 204: "No Content", 206: "Partial Content",
	301: "Moved Permanently", 302: "Found", 304: "Not Modified",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	408: "Request Timeout", 411: "Length Required", 413: "Payload Too Large",
	414: "URI Too Long", 431: "Request Header Fields Too Large",
	500: "Internal Server Error", 501: "Not Implemented", 503: "Service Unavailable",
}
