// Package buffer provides pooled byte buffers for frame assembly so the
// codecs in pkg/http2 and pkg/websocket can avoid a fresh allocation per
// frame (HEADERS+CONTINUATION reassembly, WebSocket fragment accumulation).
package buffer

import (
	"bytes"
	"sync"
)

// pool holds *bytes.Buffer instances sized for one frame/message at a time.
var pool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Get returns a reset, ready-to-use buffer from the pool.
func Get() *bytes.Buffer {
	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns a buffer to the pool. Oversized buffers (beyond maxPooled) are
// dropped rather than retained, so one huge message doesn't pin memory.
func Put(b *bytes.Buffer) {
	const maxPooled = 1 << 20 // 1MiB
	if b.Cap() > maxPooled {
		return
	}
	pool.Put(b)
}

// Accumulator accumulates fragments of a single logical unit (a
// CONTINUATION-reassembled HEADERS block, or a fragmented WebSocket
// message) and is returned to the pool once the caller is done with it.
type Accumulator struct {
	buf *bytes.Buffer
}

// NewAccumulator returns an Accumulator backed by a pooled buffer.
func NewAccumulator() *Accumulator {
	return &Accumulator{buf: Get()}
}

// Write appends p to the accumulator.
func (a *Accumulator) Write(p []byte) {
	a.buf.Write(p)
}

// Len reports the number of accumulated bytes.
func (a *Accumulator) Len() int { return a.buf.Len() }

// Bytes returns the accumulated bytes. The slice is only valid until
// Release is called.
func (a *Accumulator) Bytes() []byte { return a.buf.Bytes() }

// Take returns a standalone copy of the accumulated bytes and releases the
// underlying pooled buffer.
func (a *Accumulator) Take() []byte {
	out := make([]byte, a.buf.Len())
	copy(out, a.buf.Bytes())
	a.Release()
	return out
}

// Release returns the underlying buffer to the pool. The Accumulator must
// not be used afterward.
func (a *Accumulator) Release() {
	if a.buf != nil {
		Put(a.buf)
		a.buf = nil
	}
}
