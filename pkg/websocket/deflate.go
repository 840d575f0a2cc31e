package websocket

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// trailer is the RFC 7692 §7.2.1 mandated suffix stripped before deflating
// and re-appended before inflating.
var trailer = []byte{0x00, 0x00, 0xff, 0xff}

// DeflateOptions configures permessage-deflate (spec.md §6).
type DeflateOptions struct {
	Level    int // klauspost/compress/flate level, default flate.DefaultCompression
	MemLevel int // unused by klauspost/compress (kept for config-shape parity with zlib-based servers)
	Strategy int // unused by klauspost/compress (parity, see above)
}

// DeflateContext is the PerMessageDeflate Context from spec.md §3: one
// inflate and one deflate stream per side, each optionally reset between
// messages ("no_context_takeover").
type DeflateContext struct {
	opts DeflateOptions

	ServerNoContextTakeover bool
	ClientNoContextTakeover bool
	ServerMaxWindowBits     int
	ClientMaxWindowBits     int

	deflateW   *flate.Writer
	deflateBuf bytes.Buffer

	inflateR io.ReadCloser
	inflateSrc *bytes.Reader
}

// NewDeflateContext builds a context with the negotiated parameters
// (spec.md §4.4's -8→-9 substitution note: klauspost/compress/flate, like
// stdlib compress/flate, has no raw window below 9 bits, so 8 and 9 are
// treated identically here).
func NewDeflateContext(opts DeflateOptions, serverNoTakeover, clientNoTakeover bool, serverBits, clientBits int) (*DeflateContext, error) {
	if opts.Level == 0 {
		opts.Level = flate.DefaultCompression
	}
	ctx := &DeflateContext{
		opts:                    opts,
		ServerNoContextTakeover: serverNoTakeover,
		ClientNoContextTakeover: clientNoTakeover,
		ServerMaxWindowBits:     normalizeWindowBits(serverBits),
		ClientMaxWindowBits:     normalizeWindowBits(clientBits),
		inflateSrc:              bytes.NewReader(nil),
	}
	w, err := flate.NewWriter(&ctx.deflateBuf, opts.Level)
	if err != nil {
		return nil, fmt.Errorf("permessage-deflate: init writer: %w", err)
	}
	ctx.deflateW = w
	return ctx, nil
}

func normalizeWindowBits(bits int) int {
	if bits == 0 {
		return 15
	}
	if bits < 9 {
		return 9
	}
	return bits
}

// Deflate compresses message and strips the RFC 7692 trailing 4 bytes. The
// underlying output buffer is cleared each call, but the compressor's
// sliding-window state is preserved across messages unless
// ServerNoContextTakeover is set, matching RFC 7692 context-takeover
// semantics.
func (d *DeflateContext) Deflate(message []byte) ([]byte, error) {
	d.deflateBuf.Reset()
	if _, err := d.deflateW.Write(message); err != nil {
		return nil, err
	}
	if err := d.deflateW.Flush(); err != nil {
		return nil, err
	}
	out := d.deflateBuf.Bytes()
	out = bytes.TrimSuffix(out, trailer)
	result := make([]byte, len(out))
	copy(result, out)
	if d.ServerNoContextTakeover {
		d.deflateW.Reset(&d.deflateBuf)
	}
	return result, nil
}

// Inflate appends the RFC 7692-mandated trailer and decompresses message.
// An empty final stored block follows the trailer so the decompressor
// reaches a clean end of stream instead of an unexpected EOF.
// Resets the inflate stream afterward if ClientNoContextTakeover is set.
func (d *DeflateContext) Inflate(message []byte) ([]byte, error) {
	src := append(append([]byte{}, message...), trailer...)
	src = append(src, 0x01, 0x00, 0x00, 0xff, 0xff)
	d.inflateSrc.Reset(src)
	if d.inflateR == nil {
		d.inflateR = flate.NewReader(d.inflateSrc)
	} else if resetter, ok := d.inflateR.(flate.Resetter); ok {
		if err := resetter.Reset(d.inflateSrc, nil); err != nil {
			return nil, err
		}
	} else {
		d.inflateR = flate.NewReader(d.inflateSrc)
	}
	out, err := io.ReadAll(d.inflateR)
	if err != nil {
		return nil, fmt.Errorf("permessage-deflate: inflate: %w", err)
	}
	if d.ClientNoContextTakeover {
		d.resetInflate()
	}
	return out, nil
}

func (d *DeflateContext) resetInflate() {
	if d.inflateR != nil {
		_ = d.inflateR.Close()
	}
	d.inflateR = nil
}

// Close releases the compressor/decompressor resources.
func (d *DeflateContext) Close() {
	if d.inflateR != nil {
		_ = d.inflateR.Close()
	}
}
