package http2

import (
	"bytes"
	"strings"
	"sync"

	"golang.org/x/net/http2/hpack"

	"github.com/nodecore/triproto/pkg/constants"
	"github.com/nodecore/triproto/pkg/httpmsg"
)

// HeaderCodec wraps golang.org/x/net/http2/hpack's encoder/decoder pair as
// the single HPACK collaborator for one connection (spec.md §9: "the HPACK
// table is a collaborator, not a value type" — both directions share one
// dynamic table each, scoped to the connection, and must be driven serially
// in frame-arrival / frame-send order).
type HeaderCodec struct {
	mu      sync.Mutex
	encBuf  bytes.Buffer
	enc     *hpack.Encoder
	dec     *hpack.Decoder
}

// NewHeaderCodec constructs a codec with the given initial dynamic table
// size (our local SETTINGS_HEADER_TABLE_SIZE, applied to the decoder; the
// encoder's table size is whatever the peer has advertised to us via its
// own SETTINGS, applied with SetMaxDynamicTableSize as those arrive).
func NewHeaderCodec(tableSize uint32) *HeaderCodec {
	c := &HeaderCodec{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(tableSize, nil)
	return c
}

// DecodedHeaders is one decoded HEADERS block split into the pseudo-headers
// relevant to request dispatch and the regular header fields.
type DecodedHeaders struct {
	Method    string
	Path      string
	Scheme    string
	Authority string
	Headers   httpmsg.Headers
}

// SetPeerTableSize applies the peer's advertised SETTINGS_HEADER_TABLE_SIZE
// to our encoder (the size we're allowed to use when encoding headers we
// send to them).
func (c *HeaderCodec) SetPeerTableSize(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enc.SetMaxDynamicTableSize(n)
}

// Decode parses one complete (CONTINUATION-reassembled) header block.
func (c *HeaderCodec) Decode(block []byte) (*DecodedHeaders, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, err := c.dec.DecodeFull(block)
	if err != nil {
		return nil, NewConnError(constants.H2CompressionError, "hpack decode error: "+err.Error())
	}

	out := &DecodedHeaders{Headers: make(httpmsg.Headers, 0, len(fields))}
	seenRegular := false
	var cookies []string
	for _, f := range fields {
		// RFC 9113 §8.2.1: field names MUST be lowercase; a request
		// containing an uppercase character is malformed.
		if hasUpper(f.Name) {
			return nil, NewConnError(constants.H2ProtocolError, "uppercase header name in HTTP/2 request: "+f.Name)
		}
		name := f.Name
		if strings.HasPrefix(name, ":") {
			// RFC 9113 §8.3: all pseudo-header fields must appear before
			// any regular header field.
			if seenRegular {
				return nil, NewConnError(constants.H2ProtocolError, "pseudo-header field after regular header: "+name)
			}
			switch name {
			case ":method":
				out.Method = f.Value
			case ":path":
				out.Path = f.Value
			case ":scheme":
				out.Scheme = f.Value
			case ":authority":
				out.Authority = f.Value
			}
			continue
		}
		seenRegular = true
		if isH2ConnectionSpecific(name) {
			return nil, NewConnError(constants.H2ProtocolError, "connection-specific header in HTTP/2 request: "+name)
		}
		// RFC 9113 §8.2.3: multiple cookie header fields MUST be
		// concatenated with "; " before further processing.
		if name == "cookie" {
			cookies = append(cookies, f.Value)
			continue
		}
		out.Headers = append(out.Headers, httpmsg.Header{Name: name, Value: f.Value})
	}
	if len(cookies) > 0 {
		out.Headers = append(out.Headers, httpmsg.Header{Name: "cookie", Value: strings.Join(cookies, "; ")})
	}
	if out.Method == "" || out.Path == "" || out.Scheme == "" {
		return nil, NewConnError(constants.H2ProtocolError, "missing required pseudo-header")
	}
	return out, nil
}

// hasUpper reports whether s contains an ASCII uppercase letter.
func hasUpper(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

// Encode serializes :status plus the given response headers into one HPACK
// block. Callers are responsible for splitting the result across
// HEADERS+CONTINUATION frames per the peer's max_frame_size.
func (c *HeaderCodec) Encode(status int, headers httpmsg.Headers) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.encBuf.Reset()
	if err := c.enc.WriteField(hpack.HeaderField{Name: ":status", Value: statusText3(status)}); err != nil {
		return nil, err
	}
	for _, h := range headers {
		name := strings.ToLower(h.Name)
		if isH2ConnectionSpecific(name) {
			continue
		}
		if err := c.enc.WriteField(hpack.HeaderField{Name: name, Value: h.Value}); err != nil {
			return nil, err
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

// isH2ConnectionSpecific rejects hop-by-hop headers forbidden in HTTP/2
// (RFC 9113 §8.2.2).
func isH2ConnectionSpecific(name string) bool {
	switch name {
	case "connection", "keep-alive", "proxy-connection", "transfer-encoding", "upgrade":
		return true
	}
	return false
}

func statusText3(status int) string {
	// HPACK only cares about the status code's decimal text.
	const digits = "0123456789"
	if status < 0 {
		status = 0
	}
	b := [3]byte{}
	for i := 2; i >= 0; i-- {
		b[i] = digits[status%10]
		status /= 10
	}
	return string(b[:])
}
