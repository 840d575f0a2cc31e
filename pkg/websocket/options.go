package websocket

import "time"

// Options holds the per-listener WebSocket configuration enumerated in
// spec.md §6.
type Options struct {
	Compress           bool
	MaxFrameSize       int // 0 = unlimited
	ValidateTextFrames bool
	Timeout            time.Duration
	Deflate            DeflateOptions
}

// DefaultOptions returns the spec.md §6 defaults.
func DefaultOptions() Options {
	return Options{
		Compress:           true,
		MaxFrameSize:       0,
		ValidateTextFrames: true,
		Timeout:            60 * time.Second,
		Deflate:            DeflateOptions{},
	}
}
