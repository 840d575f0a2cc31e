// Package transport defines the polymorphic HTTP Transport abstraction
// (spec.md §2, §9: "implement as an interface/trait with variants, not
// inheritance"). pkg/http1 and pkg/http2 each provide an implementation;
// pkg/pipeline is generic over this interface.
package transport

import "github.com/nodecore/triproto/pkg/httpmsg"

// Disposition selects how send_headers commits a response (spec.md §4.2).
type Disposition int

const (
	// DispositionRaw sends a fixed-length body, synthesizing content-length.
	DispositionRaw Disposition = iota
	// DispositionChunkEncoded streams a body whose length isn't known
	// up-front (adds transfer-encoding: chunked on HTTP/1, no-op on HTTP/2).
	DispositionChunkEncoded
	// DispositionNoBody is used for HEAD/204/304/1xx: headers only.
	DispositionNoBody
	// DispositionInform sends a 1xx interim response; never touches
	// keep-alive state.
	DispositionInform
)

// Transport is the per-connection/per-stream protocol abstraction consumed
// by pkg/pipeline. One HTTP/1 Transport exists per TCP connection and is
// reused across keep-alive requests; one HTTP/2 Transport exists per
// stream.
type Transport interface {
	// ReadRequest parses the next request's method/target/headers and
	// returns a Request with a not-yet-consumed body reader.
	ReadRequest() (*httpmsg.Request, error)

	// SendHeaders commits status+headers with the given disposition.
	SendHeaders(status int, headers httpmsg.Headers, disposition Disposition) error

	// SendData writes body bytes; end indicates the final call for a raw
	// or chunk-encoded body.
	SendData(p []byte, end bool) error

	// SendChunk writes one chunk of a chunk-encoded body.
	SendChunk(p []byte) error

	// SendFile sends length bytes of path starting at offset as the body.
	SendFile(path string, offset, length int64) error

	// EnsureCompleted drains any unread request body before the
	// connection is reused for the next keep-alive request (HTTP/1) or
	// before it would otherwise be considered done.
	EnsureCompleted() error

	// Keepalive reports whether the underlying connection should serve
	// another request after this one (always false for an HTTP/2 stream
	// transport, meaningful for HTTP/1).
	Keepalive() bool

	// Close closes the underlying transport/stream.
	Close() error
}
