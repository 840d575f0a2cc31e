// Package dispatcher implements the Protocol Dispatcher (spec.md §4.1):
// the first-bytes/ALPN based switch that picks HTTP/1 vs HTTP/2 for a
// freshly accepted connection.
package dispatcher

import (
	"bufio"
	"crypto/tls"
	"net"

	"github.com/nodecore/triproto/pkg/constants"
	"github.com/nodecore/triproto/pkg/errors"
	"github.com/nodecore/triproto/pkg/logging"
)

var log = logging.New("dispatcher")

// Protocol is the subsystem selected for one connection.
type Protocol int

const (
	ProtocolHTTP1 Protocol = iota
	ProtocolHTTP2
)

// Options controls which protocols the listener accepts (spec.md §4.1's
// "if configuration disables the selected protocol, the connection is
// closed").
type Options struct {
	EnableHTTP1 bool
	EnableHTTP2 bool
}

// DefaultOptions enables both protocols.
func DefaultOptions() Options {
	return Options{EnableHTTP1: true, EnableHTTP2: true}
}

// Selection is the dispatcher's verdict for one connection: which protocol
// to run, and the buffered reader carrying any look-ahead bytes already
// consumed from conn while peeking (so the chosen state machine never loses
// bytes the peer already sent).
type Selection struct {
	Protocol Protocol
	Reader   *bufio.Reader
}

const prefaceLen = len(constants.ConnectionPreface)

// Dispatch selects a protocol for conn. For a *tls.Conn, the handshake is
// completed first so ALPN is authoritative; for plaintext, the connection
// preface is peeked without consuming it from whatever state machine reads
// next (spec.md §4.1).
func Dispatch(conn net.Conn, opts Options) (*Selection, error) {
	if tc, ok := conn.(*tls.Conn); ok {
		if err := tc.Handshake(); err != nil {
			return nil, errors.NewTransportError("tls_handshake", err)
		}
		proto := tc.ConnectionState().NegotiatedProtocol
		br := bufio.NewReaderSize(conn, 4096)
		switch proto {
		case "h2":
			if !opts.EnableHTTP2 {
				return nil, errors.NewValidationError("dispatch", "ALPN negotiated h2 but HTTP/2 is disabled")
			}
			return &Selection{Protocol: ProtocolHTTP2, Reader: br}, nil
		default: // "http/1.1" or no ALPN at all
			if !opts.EnableHTTP1 {
				return nil, errors.NewValidationError("dispatch", "ALPN negotiated http/1.1 but HTTP/1 is disabled")
			}
			return &Selection{Protocol: ProtocolHTTP1, Reader: br}, nil
		}
	}

	br := bufio.NewReaderSize(conn, 4096)
	peek, err := br.Peek(prefaceLen)
	if err != nil {
		// Fewer bytes than the preface arrived before EOF/timeout; treat as
		// HTTP/1 and let its own (likely short) read fail with the usual
		// framing error.
		return selectHTTP1(br, opts)
	}
	if string(peek) == constants.ConnectionPreface {
		if !opts.EnableHTTP2 {
			return nil, errors.NewValidationError("dispatch", "h2c preface seen but HTTP/2 is disabled")
		}
		return &Selection{Protocol: ProtocolHTTP2, Reader: br}, nil
	}
	if looksLikeTLSClientHello(peek) {
		log.Warnf("TLS ClientHello seen on a plaintext listener, closing")
		return nil, errors.NewValidationError("dispatch", "TLS ClientHello on plaintext listener")
	}
	return selectHTTP1(br, opts)
}

func selectHTTP1(br *bufio.Reader, opts Options) (*Selection, error) {
	if !opts.EnableHTTP1 {
		return nil, errors.NewValidationError("dispatch", "HTTP/1 is disabled")
	}
	return &Selection{Protocol: ProtocolHTTP1, Reader: br}, nil
}

// looksLikeTLSClientHello recognizes a TLS record header (content type
// handshake = 0x16, major version 0x03) arriving on a listener that never
// performed a TLS handshake (spec.md §4.1).
func looksLikeTLSClientHello(peek []byte) bool {
	return len(peek) >= 3 && peek[0] == 0x16 && peek[1] == 0x03
}
