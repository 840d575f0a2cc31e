// Package config loads the YAML configuration enumerated in spec.md §6
// into the structs consumed by pkg/dispatcher, pkg/http1, pkg/http2,
// pkg/websocket and pkg/server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nodecore/triproto/pkg/constants"
	"github.com/nodecore/triproto/pkg/dispatcher"
	"github.com/nodecore/triproto/pkg/http1"
	"github.com/nodecore/triproto/pkg/http2"
	"github.com/nodecore/triproto/pkg/server"
	"github.com/nodecore/triproto/pkg/websocket"
)

// ListenerConfig is the "Listener" bullet of spec.md §6: `port`, `ip`,
// `certfile`, `keyfile`, transport options (passed through).
type ListenerConfig struct {
	IP       string `yaml:"ip"`
	Port     int    `yaml:"port"`
	CertFile string `yaml:"certfile"`
	KeyFile  string `yaml:"keyfile"`
}

// HTTP1Config mirrors spec.md §6's HTTP/1 enumeration.
type HTTP1Config struct {
	MaxRequestLineLength int           `yaml:"max_request_line_length"`
	MaxHeaderLength      int           `yaml:"max_header_length"`
	MaxHeaderCount       int           `yaml:"max_header_count"`
	MaxRequests          int           `yaml:"max_requests"`
	Compress             bool          `yaml:"compress"`
	LogProtocolErrors    bool          `yaml:"log_protocol_errors"`
	GCEveryNKeepalive    int           `yaml:"gc_every_n_keepalive_requests"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
}

// HTTP2Config mirrors spec.md §6's HTTP/2 enumeration.
type HTTP2Config struct {
	MaxConcurrentStreams uint32 `yaml:"max_concurrent_streams"`
	MaxFrameSize         uint32 `yaml:"max_frame_size"`
	MaxHeaderBlockSize   int    `yaml:"max_header_block_size"`
	InitialWindowSize    uint32 `yaml:"initial_window_size"`
	MaxHeaderListSize    uint32 `yaml:"max_header_list_size"`
	HeaderTableSize      uint32 `yaml:"header_table_size"`
}

// DeflateConfig mirrors the "level, mem_level, strategy" deflate options
// named in spec.md §6.
type DeflateConfig struct {
	Level    int `yaml:"level"`
	MemLevel int `yaml:"mem_level"`
	Strategy int `yaml:"strategy"`
}

// WebSocketConfig mirrors spec.md §6's WebSocket enumeration.
type WebSocketConfig struct {
	Compress           bool          `yaml:"compress"`
	MaxFrameSize       int           `yaml:"max_frame_size"`
	ValidateTextFrames bool          `yaml:"validate_text_frames"`
	Timeout            time.Duration `yaml:"timeout"`
	Deflate            DeflateConfig `yaml:"deflate_options"`
}

// Config is the top-level document loaded from YAML.
type Config struct {
	Listener  ListenerConfig  `yaml:"listener"`
	HTTP1     HTTP1Config     `yaml:"http1"`
	HTTP2     HTTP2Config     `yaml:"http2"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	EnableH1  *bool           `yaml:"enable_http1"`
	EnableH2  *bool           `yaml:"enable_http2"`
}

// Default returns a Config seeded with every subsystem's defaults, so a
// YAML document only needs to name the fields it overrides.
func Default() *Config {
	h1 := http1.DefaultOptions()
	h2 := http2.DefaultOptions()
	ws := websocket.DefaultOptions()
	return &Config{
		Listener: ListenerConfig{IP: "0.0.0.0", Port: 8080},
		HTTP1: HTTP1Config{
			MaxRequestLineLength: h1.MaxRequestLineLength,
			MaxHeaderLength:      h1.MaxHeaderLength,
			MaxHeaderCount:       h1.MaxHeaderCount,
			MaxRequests:          h1.MaxRequests,
			Compress:             h1.Compress,
			LogProtocolErrors:    h1.LogProtocolErrors,
			GCEveryNKeepalive:    h1.GCEveryNKeepalive,
			ReadTimeout:          h1.ReadTimeout,
		},
		HTTP2: HTTP2Config{
			MaxConcurrentStreams: h2.MaxConcurrentStreams,
			MaxFrameSize:         h2.MaxFrameSize,
			MaxHeaderBlockSize:   h2.MaxHeaderBlockSize,
			InitialWindowSize:    h2.InitialWindowSize,
			MaxHeaderListSize:    h2.MaxHeaderListSize,
			HeaderTableSize:      h2.HeaderTableSize,
		},
		WebSocket: WebSocketConfig{
			Compress:           ws.Compress,
			MaxFrameSize:       ws.MaxFrameSize,
			ValidateTextFrames: ws.ValidateTextFrames,
			Timeout:            ws.Timeout,
			Deflate: DeflateConfig{
				Level:    ws.Deflate.Level,
				MemLevel: ws.Deflate.MemLevel,
				Strategy: ws.Deflate.Strategy,
			},
		},
	}
}

// Load reads and parses a YAML config file, applying defaults for any
// field the document omits.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a config that would crash the listener rather than
// failing loudly before Accept ever runs.
func (c *Config) Validate() error {
	if c.Listener.Port <= 0 || c.Listener.Port > 65535 {
		return fmt.Errorf("config: invalid listener port %d", c.Listener.Port)
	}
	if (c.Listener.CertFile == "") != (c.Listener.KeyFile == "") {
		return fmt.Errorf("config: certfile and keyfile must both be set or both be empty")
	}
	if c.HTTP2.MaxFrameSize != 0 &&
		(c.HTTP2.MaxFrameSize < constants.MaxFrameSizeFloor || c.HTTP2.MaxFrameSize > constants.MaxFrameSizeCeil) {
		return fmt.Errorf("config: http2 max_frame_size %d out of range [%d, %d]",
			c.HTTP2.MaxFrameSize, constants.MaxFrameSizeFloor, constants.MaxFrameSizeCeil)
	}
	return nil
}

// UsesTLS reports whether the listener config names a certificate pair.
func (c *ListenerConfig) UsesTLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Addr renders the listener's host:port for net.Listen.
func (c *ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.IP, c.Port)
}

// ServerOptions converts the loaded config into pkg/server's Options.
// Zero-valued limits, sizes and timeouts are filled in from their
// subsystem's defaults so a sparse YAML document never produces a zero
// max-frame-size or similar footgun; booleans and the fields where zero
// means unlimited (such as MaxRequests) are passed through unchanged.
func (c *Config) ServerOptions() server.Options {
	opts := server.DefaultOptions()

	opts.Dispatcher = dispatcher.Options{
		EnableHTTP1: c.EnableH1 == nil || *c.EnableH1,
		EnableHTTP2: c.EnableH2 == nil || *c.EnableH2,
	}

	opts.HTTP1 = http1.Options{
		MaxRequestLineLength: orInt(c.HTTP1.MaxRequestLineLength, opts.HTTP1.MaxRequestLineLength),
		MaxHeaderLength:      orInt(c.HTTP1.MaxHeaderLength, opts.HTTP1.MaxHeaderLength),
		MaxHeaderCount:       orInt(c.HTTP1.MaxHeaderCount, opts.HTTP1.MaxHeaderCount),
		MaxRequests:          c.HTTP1.MaxRequests,
		Compress:             c.HTTP1.Compress,
		LogProtocolErrors:    c.HTTP1.LogProtocolErrors,
		GCEveryNKeepalive:    orInt(c.HTTP1.GCEveryNKeepalive, opts.HTTP1.GCEveryNKeepalive),
		ReadTimeout:          orDuration(c.HTTP1.ReadTimeout, opts.HTTP1.ReadTimeout),
	}

	opts.HTTP2 = http2.Options{
		MaxConcurrentStreams: orU32(c.HTTP2.MaxConcurrentStreams, opts.HTTP2.MaxConcurrentStreams),
		MaxFrameSize:         orU32(c.HTTP2.MaxFrameSize, opts.HTTP2.MaxFrameSize),
		MaxHeaderBlockSize:   orInt(c.HTTP2.MaxHeaderBlockSize, opts.HTTP2.MaxHeaderBlockSize),
		InitialWindowSize:    orU32(c.HTTP2.InitialWindowSize, opts.HTTP2.InitialWindowSize),
		MaxHeaderListSize:    orU32(c.HTTP2.MaxHeaderListSize, opts.HTTP2.MaxHeaderListSize),
		HeaderTableSize:      orU32(c.HTTP2.HeaderTableSize, opts.HTTP2.HeaderTableSize),
	}

	opts.WebSocket = websocket.Options{
		Compress:           c.WebSocket.Compress,
		MaxFrameSize:       c.WebSocket.MaxFrameSize,
		ValidateTextFrames: c.WebSocket.ValidateTextFrames,
		Timeout:            orDuration(c.WebSocket.Timeout, opts.WebSocket.Timeout),
		Deflate: websocket.DeflateOptions{
			Level:    c.WebSocket.Deflate.Level,
			MemLevel: c.WebSocket.Deflate.MemLevel,
			Strategy: c.WebSocket.Deflate.Strategy,
		},
	}

	return opts
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orU32(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
