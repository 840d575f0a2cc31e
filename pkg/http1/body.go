package http1

import (
	"bufio"
	"fmt"
	"io"
)

// identityReader reads exactly N bytes (content-length framing). Reading
// more than declared is impossible by construction; reading a short
// connection close before N bytes are delivered is reported as an error
// (spec.md §4.2: "guarantees total returned equals declared length or
// reports smuggling error if more is read").
type identityReader struct {
	r         *bufio.Reader
	remaining int64
}

func newIdentityReader(r *bufio.Reader, length int64) *identityReader {
	return &identityReader{r: r, remaining: length}
}

func (b *identityReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	if err == io.EOF && b.remaining > 0 {
		return n, fmt.Errorf("connection closed with %d bytes of declared body unread", b.remaining)
	}
	return n, err
}

// bodyReader adapts a raw io.Reader (identity or chunked) to
// httpmsg.BodyReader, enforcing invariant I1: a second read after the body
// is exhausted returns io.EOF rather than re-reading.
type bodyReader struct {
	r         io.Reader
	exhausted bool
}

func newBodyReader(r io.Reader) *bodyReader {
	return &bodyReader{r: r}
}

func (b *bodyReader) Read(p []byte) (int, error) {
	if b.exhausted {
		return 0, io.EOF
	}
	n, err := b.r.Read(p)
	if err != nil {
		b.exhausted = true
	}
	return n, err
}

func (b *bodyReader) Discard() error {
	if b.exhausted {
		return nil
	}
	_, err := io.Copy(io.Discard, b.r)
	b.exhausted = true
	if err == io.EOF {
		return nil
	}
	return err
}

// emptyBody is used when a request has no body (no content-length, no
// chunked transfer-encoding).
type emptyBody struct{}

func (emptyBody) Read(p []byte) (int, error) { return 0, io.EOF }
func (emptyBody) Discard() error             { return nil }
