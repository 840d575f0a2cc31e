// Package errors provides structured error types for the triproto server core.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error that occurred.
type ErrorType string

const (
	// ErrorTypeTransport represents a socket/IO level failure (closed, reset, timeout).
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeRequestProtocol represents a malformed HTTP/1 request (bad line, headers, framing).
	ErrorTypeRequestProtocol ErrorType = "request_protocol"
	// ErrorTypeHandler represents an error raised by the user-supplied handler.
	ErrorTypeHandler ErrorType = "handler"
	// ErrorTypeHTTP2Connection represents an HTTP/2 connection-level error (GOAWAY-worthy).
	ErrorTypeHTTP2Connection ErrorType = "http2_connection"
	// ErrorTypeHTTP2Stream represents an HTTP/2 stream-level error (RST_STREAM-worthy).
	ErrorTypeHTTP2Stream ErrorType = "http2_stream"
	// ErrorTypeWebSocket represents a WebSocket protocol error (close-worthy).
	ErrorTypeWebSocket ErrorType = "websocket"
	// ErrorTypeValidation represents a configuration or input validation error.
	ErrorTypeValidation ErrorType = "validation"
)

// Error is a structured error with enough context to pick the right wire
// response (status code, GOAWAY code, RST_STREAM code, or close code).
type Error struct {
	Type      ErrorType
	Op        string
	Message   string
	Cause     error
	Status    int    // HTTP/1 status to send, if applicable
	H2Code    uint32 // HTTP/2 error code (RFC 9113 §7), if applicable
	StreamID  uint32 // HTTP/2 stream id, set on ErrorTypeHTTP2Stream
	WSCode    int    // WebSocket close code (RFC 6455 §7.4), if applicable
	Timestamp time.Time
}

// Error implements the error interface.
// Format: [type] op: message: cause
func (e *Error) Error() string {
	s := fmt.Sprintf("[%s]", e.Type)
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap allows errors.Is/As to see through to the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

func newError(t ErrorType, op, msg string, cause error) *Error {
	return &Error{Type: t, Op: op, Message: msg, Cause: cause, Timestamp: time.Now()}
}

// NewTransportError wraps a socket/IO failure. Never reported to the peer.
func NewTransportError(op string, cause error) *Error {
	return newError(ErrorTypeTransport, op, "", cause)
}

// NewRequestProtocolError wraps a malformed-request failure with the HTTP
// status that should be sent in reply (§7: "reply with 4xx + connection: close").
func NewRequestProtocolError(op, msg string, status int) *Error {
	e := newError(ErrorTypeRequestProtocol, op, msg, nil)
	e.Status = status
	return e
}

// NewHandlerError wraps a panic/error raised by the user handler, with the
// status that should be sent if no response has been committed yet.
func NewHandlerError(op string, cause error, status int) *Error {
	e := newError(ErrorTypeHandler, op, "", cause)
	e.Status = status
	return e
}

// NewHTTP2ConnectionError wraps a connection-level HTTP/2 error (GOAWAY).
func NewHTTP2ConnectionError(op, msg string, code uint32) *Error {
	e := newError(ErrorTypeHTTP2Connection, op, msg, nil)
	e.H2Code = code
	return e
}

// NewHTTP2StreamError wraps a stream-level HTTP/2 error (RST_STREAM).
func NewHTTP2StreamError(op, msg string, streamID, code uint32) *Error {
	e := newError(ErrorTypeHTTP2Stream, op, msg, nil)
	e.H2Code = code
	e.StreamID = streamID
	return e
}

// NewWebSocketError wraps a WebSocket protocol error with its close code.
func NewWebSocketError(op, msg string, code int) *Error {
	e := newError(ErrorTypeWebSocket, op, msg, nil)
	e.WSCode = code
	return e
}

// NewValidationError wraps a configuration validation failure.
func NewValidationError(op, msg string) *Error {
	return newError(ErrorTypeValidation, op, msg, nil)
}

// Is reports whether err is a structured Error of the given type.
func Is(err error, t ErrorType) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Type == t
	}
	return false
}
