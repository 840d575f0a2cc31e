// Package http2 implements the HTTP/2 connection and stream state
// machines (spec.md §4.3, RFC 9113): frame codec, HPACK interface,
// per-stream state, flow control, CONTINUATION reassembly, GOAWAY,
// RST_STREAM, SETTINGS, PING and request dispatch per stream.
package http2

import "github.com/nodecore/triproto/pkg/constants"

// Options holds the per-listener HTTP/2 configuration enumerated in
// spec.md §6; these map directly to local SETTINGS values advertised to
// the peer.
type Options struct {
	MaxConcurrentStreams uint32
	MaxFrameSize         uint32
	MaxHeaderBlockSize   int
	InitialWindowSize    uint32
	MaxHeaderListSize    uint32
	HeaderTableSize      uint32
}

// DefaultOptions returns the spec.md §6 defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentStreams: constants.DefaultMaxConcurrentStreams,
		MaxFrameSize:         constants.DefaultMaxFrameSize,
		MaxHeaderBlockSize:   constants.DefaultMaxHeaderBlockSize,
		InitialWindowSize:    constants.DefaultInitialWindowSize,
		MaxHeaderListSize:    constants.DefaultMaxHeaderListSize,
		HeaderTableSize:      constants.DefaultHeaderTableSize,
	}
}
