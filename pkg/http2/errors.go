package http2

import "github.com/nodecore/triproto/pkg/errors"

// NewConnError builds a connection-level protocol violation: the caller
// must send GOAWAY with code and stop serving the connection (RFC 9113
// §5.4.1). It is an *errors.Error of type ErrorTypeHTTP2Connection, the
// same structured error type pkg/pipeline and pkg/errors already know
// about.
func NewConnError(code uint32, msg string) error {
	return errors.NewHTTP2ConnectionError("http2", msg, code)
}

// NewStreamError builds a stream-level protocol violation: the caller
// sends RST_STREAM for streamID and the connection otherwise continues
// (RFC 9113 §5.4.2).
func NewStreamError(streamID, code uint32, msg string) error {
	return errors.NewHTTP2StreamError("http2", msg, streamID, code)
}

// asConnError reports whether err is a connection-level HTTP/2 error and,
// if so, its GOAWAY error code.
func asConnError(err error) (code uint32, ok bool) {
	se, isErr := err.(*errors.Error)
	if !isErr || se.Type != errors.ErrorTypeHTTP2Connection {
		return 0, false
	}
	return se.H2Code, true
}

// asStreamError reports whether err is a stream-level HTTP/2 error and, if
// so, the stream id and RST_STREAM error code.
func asStreamError(err error) (streamID uint32, code uint32, ok bool) {
	se, isErr := err.(*errors.Error)
	if !isErr || se.Type != errors.ErrorTypeHTTP2Stream {
		return 0, 0, false
	}
	return se.StreamID, se.H2Code, true
}
