package websocket

import (
	"unicode/utf8"

	"github.com/nodecore/triproto/pkg/buffer"
)

// reassembler accumulates a fragmented TEXT/BINARY message (spec.md §3's
// fragment-frame, §4.4 "Message assembly and dispatch") on top of a pooled
// buffer.Accumulator, so a long fragmented message doesn't force a fresh
// allocation per CONTINUATION frame.
type reassembler struct {
	open   bool
	opcode Opcode
	acc    *buffer.Accumulator
}

// feedInitial starts a new fragment accumulator (I7: only one may be open
// at a time).
func (r *reassembler) feedInitial(opcode Opcode, payload []byte) error {
	if r.open {
		return perr(1002, "new TEXT/BINARY frame while a fragment is open")
	}
	r.open = true
	r.opcode = opcode
	r.acc = buffer.NewAccumulator()
	r.acc.Write(payload)
	return nil
}

// feedContinuation appends a CONTINUATION frame's payload.
func (r *reassembler) feedContinuation(payload []byte) error {
	if !r.open {
		return perr(1002, "continuation with no pending fragment")
	}
	r.acc.Write(payload)
	return nil
}

// take returns the assembled opcode+payload and resets the accumulator,
// releasing its buffer back to the pool (P5: the assembled payload is the
// concatenation of fragments in order).
func (r *reassembler) take() (Opcode, []byte) {
	op, data := r.opcode, r.acc.Take()
	r.open = false
	r.acc = nil
	return op, data
}

// validateUTF8 implements invariant I9.
func validateUTF8(p []byte) bool { return utf8.Valid(p) }
