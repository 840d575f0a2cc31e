package http1

import (
	"time"

	"github.com/nodecore/triproto/pkg/constants"
)

// Options holds the per-listener HTTP/1 configuration enumerated in
// spec.md §6.
type Options struct {
	MaxRequestLineLength int
	MaxHeaderLength      int
	MaxHeaderCount       int
	MaxRequests          int // 0 = unlimited
	Compress             bool
	LogProtocolErrors    bool
	GCEveryNKeepalive    int
	ReadTimeout          time.Duration
}

// DefaultOptions returns the spec.md §6 defaults.
func DefaultOptions() Options {
	return Options{
		MaxRequestLineLength: constants.DefaultMaxRequestLineLength,
		MaxHeaderLength:      constants.DefaultMaxHeaderLength,
		MaxHeaderCount:       constants.DefaultMaxHeaderCount,
		MaxRequests:          constants.DefaultMaxRequestsPerConn,
		Compress:             true,
		LogProtocolErrors:    false,
		GCEveryNKeepalive:    constants.DefaultGCEveryNKeepalive,
		ReadTimeout:          constants.DefaultReadTimeout,
	}
}
