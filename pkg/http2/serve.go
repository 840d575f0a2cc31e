package http2

import (
	"bufio"
	"net"

	"github.com/nodecore/triproto/pkg/constants"
	"github.com/nodecore/triproto/pkg/errors"
	"github.com/nodecore/triproto/pkg/httpmsg"
)

// Serve drives one HTTP/2 connection to completion (spec.md §4.3's
// Connection State Machine). br is the connection's buffered reader;
// pkg/dispatcher has only peeked the client preface to select this
// transport, so Serve discards it here before entering the frame loop.
// conn is used for writes and for any reads once br's lookahead buffer is
// drained.
func Serve(conn net.Conn, br *bufio.Reader, opts Options, handler httpmsg.Handler) error {
	if _, err := br.Discard(len(constants.ConnectionPreface)); err != nil {
		return errors.NewTransportError("http2_preface", err)
	}
	c := NewConnection(conn, br, opts, handler)
	return c.Serve()
}
