// Package server is the acceptor loop / listener wiring that sits above
// pkg/dispatcher, pkg/http1, pkg/http2 and pkg/websocket (SPEC_FULL.md §1:
// "the external collaborator shell, not new core surface").
package server

import (
	"crypto/tls"
	"net"

	"github.com/nodecore/triproto/pkg/dispatcher"
	"github.com/nodecore/triproto/pkg/http1"
	"github.com/nodecore/triproto/pkg/http2"
	"github.com/nodecore/triproto/pkg/httpmsg"
	"github.com/nodecore/triproto/pkg/logging"
	"github.com/nodecore/triproto/pkg/websocket"
)

var log = logging.New("server")

// Options bundles every per-listener configuration surface named in
// spec.md §6.
type Options struct {
	Dispatcher dispatcher.Options
	HTTP1      http1.Options
	HTTP2      http2.Options
	WebSocket  websocket.Options
}

// DefaultOptions returns spec.md §6's defaults for every subsystem.
func DefaultOptions() Options {
	return Options{
		Dispatcher: dispatcher.DefaultOptions(),
		HTTP1:      http1.DefaultOptions(),
		HTTP2:      http2.DefaultOptions(),
		WebSocket:  websocket.DefaultOptions(),
	}
}

// Server accepts connections on a net.Listener (plain or TLS-wrapped with
// ALPN already configured by the caller) and runs each through the
// Protocol Dispatcher.
type Server struct {
	Listener net.Listener
	Handler  httpmsg.Handler
	Opts     Options
}

// New constructs a Server bound to ln.
func New(ln net.Listener, handler httpmsg.Handler, opts Options) *Server {
	return &Server{Listener: ln, Handler: handler, Opts: opts}
}

// Serve accepts connections until the listener is closed, serving each on
// its own goroutine (spec.md §5: "one goroutine per accepted connection").
func (s *Server) Serve() error {
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			return err
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	sel, err := dispatcher.Dispatch(conn, s.Opts.Dispatcher)
	if err != nil {
		log.ProtocolError(true, "dispatch", err)
		_ = conn.Close()
		return
	}

	switch sel.Protocol {
	case dispatcher.ProtocolHTTP2:
		defer conn.Close()
		if err := http2.Serve(conn, sel.Reader, s.Opts.HTTP2, s.Handler); err != nil {
			log.ProtocolError(s.Opts.HTTP1.LogProtocolErrors, "http2_serve", err)
		}
	default:
		onUpgrade := func(c *http1.Connection, req *httpmsg.Request, up *httpmsg.UpgradeRequest) {
			s.runWebSocket(c, req, up)
		}
		if err := http1.Serve(conn, s.Opts.HTTP1, isTLS(conn), s.Handler, onUpgrade); err != nil {
			log.ProtocolError(s.Opts.HTTP1.LogProtocolErrors, "http1_serve", err)
		}
	}
}

// runWebSocket negotiates permessage-deflate (if offered and enabled) and
// hands the connection to a websocket.Connection (spec.md §4.4's "the
// HTTP/1 state machine is replaced in place by a WebSocket Connection bound
// to the same underlying socket").
func (s *Server) runWebSocket(c *http1.Connection, req *httpmsg.Request, up *httpmsg.UpgradeRequest) {
	wsOpts := s.Opts.WebSocket
	if override, ok := up.WebSocketOpts.(websocket.Options); ok {
		wsOpts = override
	}

	var deflate *websocket.DeflateContext
	if wsOpts.Compress {
		if offer, ok := websocket.NegotiateDeflate(req); ok {
			ctx, err := websocket.NewDeflateContext(wsOpts.Deflate,
				offer.ServerNoContextTakeover, offer.ClientNoContextTakeover,
				offer.ServerMaxWindowBits, offer.ClientMaxWindowBits)
			if err == nil {
				deflate = ctx
			}
		}
	}

	conn := websocket.New(c.Conn(), c.BufferedReader(), up.SocketHandler, wsOpts, deflate)
	if err := conn.Run(up.HandlerOpts); err != nil {
		log.ProtocolError(s.Opts.HTTP1.LogProtocolErrors, "websocket_run", err)
	}
}

func isTLS(conn net.Conn) bool {
	_, ok := conn.(*tls.Conn)
	return ok
}
