package http1

import (
	"net"

	"github.com/nodecore/triproto/pkg/errors"
	"github.com/nodecore/triproto/pkg/httpmsg"
	"github.com/nodecore/triproto/pkg/logging"
	"github.com/nodecore/triproto/pkg/pipeline"
	"github.com/nodecore/triproto/pkg/transport"
)

var log = logging.New("http1")

// UpgradeFunc is invoked when a request's response carries the WEBSOCKET
// upgrade sentinel; it takes ownership of conn (and its buffered reader)
// for the remainder of the connection's lifetime.
type UpgradeFunc func(c *Connection, req *httpmsg.Request, up *httpmsg.UpgradeRequest)

// Serve drives the HTTP/1 keep-alive loop over conn (spec.md §4.2's
// "Keep-alive loop"): read a request, run it through the pipeline, and —
// absent an upgrade — repeat while the connection reports Keepalive().
func Serve(conn net.Conn, opts Options, tlsOn bool, handler httpmsg.Handler, onUpgrade UpgradeFunc) error {
	c := NewConnection(conn, opts, tlsOn)
	defer c.Close()

	pipeOpts := pipeline.Options{
		Compress:  compressBytes,
		Negotiate: func(req *httpmsg.Request, resp *httpmsg.Response) (string, bool) { return shouldCompress(opts.Compress, req, resp) },
	}

	for {
		result, err := pipeline.Run(c, handler, pipeOpts)
		if err != nil {
			handleRunError(c, opts, err)
			return err
		}

		if result.Upgraded {
			onUpgrade(c, result.Request, result.Upgrade)
			return nil
		}

		if err := c.EnsureCompleted(); err != nil {
			return err
		}
		c.NoteRequestServed()

		if !c.Keepalive() {
			return nil
		}
	}
}

// handleRunError implements spec.md §7's failure semantics: attempt a
// minimal status-only reply with connection: close if nothing has been
// written yet; otherwise just close.
func handleRunError(c *Connection, opts Options, err error) {
	var se *errors.Error
	if as, ok := err.(*errors.Error); ok {
		se = as
	}
	log.ProtocolError(opts.LogProtocolErrors, "serve", err)

	if c.WriteStarted() {
		return
	}
	status := 400
	if se != nil && se.Status != 0 {
		status = se.Status
	} else if errors.Is(err, errors.ErrorTypeTransport) {
		return // transport errors are never reported to the peer
	}
	c.keepalive = false
	_ = c.SendHeaders(status, nil, transport.DispositionNoBody)
}
