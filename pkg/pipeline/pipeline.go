// Package pipeline is the glue that, given a completed HTTP request,
// invokes the user handler, commits the response through the HTTP
// Transport, and — on an UPGRADE result — reports that the connection
// should switch to the WebSocket Connection handler (spec.md §2, §4
// "Pipeline").
package pipeline

import (
	"io"
	"strconv"
	"strings"

	"github.com/nodecore/triproto/pkg/errors"
	"github.com/nodecore/triproto/pkg/httpmsg"
	"github.com/nodecore/triproto/pkg/logging"
	"github.com/nodecore/triproto/pkg/transport"
	"github.com/nodecore/triproto/pkg/websocket"
)

var log = logging.New("pipeline")

// CompressFunc compresses a byte body for the negotiated content-encoding.
// Supplied by pkg/http1 (pkg/http2 never compresses per spec.md, since
// HTTP/2 bodies are DATA-framed independent of HTTP/1 framing concerns;
// compression there is left to the handler).
type CompressFunc func(encoding string, body []byte) ([]byte, error)

// NegotiateFunc picks a content-encoding given the request and response,
// or "" if none should be applied.
type NegotiateFunc func(req *httpmsg.Request, resp *httpmsg.Response) (string, bool)

// Options configures one Run invocation.
type Options struct {
	Compress   CompressFunc
	Negotiate  NegotiateFunc
	Disposable bool // not read by Run; content-length is derived the same way on every transport
}

// Result reports whether the request produced a protocol upgrade.
type Result struct {
	Upgraded bool
	Upgrade  *httpmsg.UpgradeRequest
	Request  *httpmsg.Request
}

// Run reads one request from tr, invokes handler, and commits the
// response. It implements the handler-exception and upgrade semantics of
// spec.md §4.2/§4.4/§6/§7.
func Run(tr transport.Transport, handler httpmsg.Handler, opts Options) (*Result, error) {
	req, err := tr.ReadRequest()
	if err != nil {
		return nil, err
	}

	if expect, ok := req.Headers.Get("expect"); ok && strings.EqualFold(strings.TrimSpace(expect), "100-continue") {
		if err := tr.SendHeaders(100, nil, transport.DispositionInform); err != nil {
			return nil, err
		}
	}

	resp, herr := invokeHandler(handler, req)
	if herr != nil {
		status := 500
		if se, ok := herr.(*errors.Error); ok && se.Status != 0 {
			status = se.Status
		}
		if err := sendFallback(tr, status); err != nil {
			return nil, err
		}
		return &Result{Request: req}, herr
	}

	if resp.Upgrade != nil {
		h, err := websocketHandshakeHeaders(req, resp)
		if err != nil {
			if serr := sendFallback(tr, statusOf(err)); serr != nil {
				return nil, serr
			}
			return &Result{Request: req}, err
		}
		if err := tr.SendHeaders(101, h, transport.DispositionNoBody); err != nil {
			return nil, err
		}
		return &Result{Upgraded: true, Upgrade: resp.Upgrade, Request: req}, nil
	}

	if err := commit(tr, req, resp, opts); err != nil {
		return nil, err
	}
	return &Result{Request: req}, nil
}

func invokeHandler(handler httpmsg.Handler, req *httpmsg.Request) (resp *httpmsg.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewHandlerError("handler_panic", panicToError(r), 500)
		}
	}()
	resp, err = handler.Serve(req)
	if err != nil {
		if _, ok := err.(*errors.Error); !ok {
			err = errors.NewHandlerError("handler", err, 500)
		}
		return nil, err
	}
	if resp == nil {
		return nil, errors.NewHandlerError("handler", errNilResponse, 500)
	}
	return resp, nil
}

var errNilResponse = handlerBug("handler returned a nil response")

type handlerBug string

func (h handlerBug) Error() string { return string(h) }

func panicToError(r any) error {
	if e, ok := r.(error); ok {
		return e
	}
	return handlerBug("handler panicked: " + toString(r))
}

func toString(r any) string {
	if s, ok := r.(string); ok {
		return s
	}
	return "non-string panic value"
}

// websocketHandshakeHeaders validates the upgrade request per RFC 6455
// §4.2.1 and builds the 101 response headers (spec.md §4.4) on top of the
// handler's response headers. The upgrade, connection and
// sec-websocket-accept headers, and sec-websocket-extensions when the
// request carries an acceptable permessage-deflate offer, replace any
// values the handler set.
func websocketHandshakeHeaders(req *httpmsg.Request, resp *httpmsg.Response) (httpmsg.Headers, error) {
	if err := websocket.ValidateUpgrade(req); err != nil {
		return nil, err
	}
	key, _ := req.Headers.Get("sec-websocket-key")

	h := resp.Headers.Clone()
	h.Set("upgrade", "websocket")
	h.Set("connection", "upgrade")
	h.Set("sec-websocket-accept", websocket.Accept(key))
	if offer, ok := websocket.NegotiateDeflate(req); ok {
		h.Set("sec-websocket-extensions", offer.EchoExtension())
	}
	return h, nil
}

// statusOf extracts the mapped status of a structured error, defaulting to
// the request-protocol-error default of 400.
func statusOf(err error) int {
	if se, ok := err.(*errors.Error); ok && se.Status != 0 {
		return se.Status
	}
	return 400
}

// sendFallback sends a minimal status-only reply on handler failure
// (spec.md §7: "reply with mapped status (default 500)").
func sendFallback(tr transport.Transport, status int) error {
	return tr.SendHeaders(status, nil, transport.DispositionNoBody)
}

// commit writes a successful handler response through the transport,
// applying the three non-obvious header rewrites from spec.md §9:
// date injection (done by the transport), content-length derivation on
// HEAD/204/304/1xx, and content-encoding negotiation.
func commit(tr transport.Transport, req *httpmsg.Request, resp *httpmsg.Response, opts Options) error {
	noBody := req.Method == "HEAD" || resp.Status == 204 || resp.Status == 304 || (resp.Status >= 100 && resp.Status < 200)

	if noBody {
		h := resp.Headers.Clone()
		if resp.Kind == httpmsg.BodyBytes {
			h.Set("content-length", strconv.Itoa(len(resp.Bytes)))
		}
		return tr.SendHeaders(resp.Status, h, transport.DispositionNoBody)
	}

	switch resp.Kind {
	case httpmsg.BodyBytes:
		return commitBytes(tr, req, resp, opts)
	case httpmsg.BodyFile:
		h := resp.Headers.Clone()
		h.Set("content-length", strconv.FormatInt(resp.File.Length, 10))
		if err := tr.SendHeaders(resp.Status, h, transport.DispositionRaw); err != nil {
			return err
		}
		return tr.SendFile(resp.File.Path, resp.File.Offset, resp.File.Length)
	case httpmsg.BodyChunked:
		if err := tr.SendHeaders(resp.Status, resp.Headers, transport.DispositionChunkEncoded); err != nil {
			return err
		}
		for {
			chunk, err := resp.Stream.NextChunk()
			if len(chunk) > 0 {
				if serr := tr.SendChunk(chunk); serr != nil {
					return serr
				}
			}
			if err != nil {
				if serr := tr.SendChunk(nil); serr != nil {
					return serr
				}
				if err == io.EOF {
					return nil
				}
				log.Warnf("chunked body source error: %v", err)
				return err
			}
		}
	default: // BodyNone
		h := resp.Headers.Clone()
		h.Set("content-length", "0")
		return tr.SendHeaders(resp.Status, h, transport.DispositionNoBody)
	}
}

func commitBytes(tr transport.Transport, req *httpmsg.Request, resp *httpmsg.Response, opts Options) error {
	body := resp.Bytes
	h := resp.Headers.Clone()

	if opts.Negotiate != nil {
		if enc, ok := opts.Negotiate(req, resp); ok && opts.Compress != nil {
			compressed, err := opts.Compress(enc, body)
			if err != nil {
				log.Warnf("compression failed, sending uncompressed: %v", err)
			} else {
				body = compressed
				h.Set("content-encoding", enc)
				h.Set("vary", "accept-encoding")
			}
		}
	}

	h.Set("content-length", strconv.Itoa(len(body)))
	if err := tr.SendHeaders(resp.Status, h, transport.DispositionRaw); err != nil {
		return err
	}
	return tr.SendData(body, true)
}
