package http2_test

import (
	"bytes"
	"testing"

	"golang.org/x/net/http2/hpack"

	"github.com/nodecore/triproto/pkg/http2"
	"github.com/nodecore/triproto/pkg/httpmsg"
)

// rawBlock HPACK-encodes fields directly (bypassing HeaderCodec.Encode's own
// normalization/filtering) so tests can exercise wire-level malformations a
// real client could still send.
func rawBlock(t *testing.T, fields ...hpack.HeaderField) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			t.Fatalf("hpack encode: %v", err)
		}
	}
	return buf.Bytes()
}

func TestHeaderCodecEncodeDecodeRoundtrip(t *testing.T) {
	// The server-side codec serializes a response block; a plain HPACK
	// decoder stands in for the client end, since HeaderCodec.Decode only
	// accepts request blocks.
	server := http2.NewHeaderCodec(4096)

	block, err := server.Encode(200, httpmsg.Headers{
		{Name: "content-type", Value: "text/plain"},
		{Name: "x-custom", Value: "v1"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	fields, err := hpack.NewDecoder(4096, nil).DecodeFull(block)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := map[string]string{}
	for _, f := range fields {
		got[f.Name] = f.Value
	}
	if got[":status"] != "200" {
		t.Errorf("expected :status 200, got %+v", fields)
	}
	if _, ok := got[":method"]; ok {
		t.Errorf("response block should carry no request pseudo-headers: %+v", fields)
	}
	if _, ok := got[":path"]; ok {
		t.Errorf("response block should carry no request pseudo-headers: %+v", fields)
	}
	if got["content-type"] != "text/plain" {
		t.Errorf("content-type mismatch: %+v", fields)
	}
}

func TestHeaderCodecDecodeRequestPseudoHeaders(t *testing.T) {
	enc := http2.NewHeaderCodec(4096)
	dec := http2.NewHeaderCodec(4096)

	// Build a request-shaped block by encoding through the same encoder
	// used for responses: pseudo-headers round-trip identically since HPACK
	// doesn't distinguish request/response fields.
	block, err := enc.Encode(0, httpmsg.Headers{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := dec.Decode(block); err == nil {
		t.Fatalf("expected missing-pseudo-header error decoding a :status-only block as a request")
	}
}

func TestHeaderCodecEncodeFiltersConnectionSpecificHeader(t *testing.T) {
	codec := http2.NewHeaderCodec(4096)
	block, err := codec.Encode(200, httpmsg.Headers{
		{Name: "connection", Value: "keep-alive"},
		{Name: "content-type", Value: "text/plain"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	other := http2.NewHeaderCodec(4096)
	decoded, err := other.Decode(block)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Headers.Has("connection") {
		t.Errorf("connection-specific header should have been filtered on encode, got %+v", decoded.Headers)
	}
}

func TestHeaderCodecRejectsPseudoHeaderAfterRegularHeader(t *testing.T) {
	block := rawBlock(t,
		hpack.HeaderField{Name: ":method", Value: "GET"},
		hpack.HeaderField{Name: ":path", Value: "/"},
		hpack.HeaderField{Name: ":scheme", Value: "http"},
		hpack.HeaderField{Name: "x-custom", Value: "v1"},
		hpack.HeaderField{Name: ":authority", Value: "example.com"},
	)
	codec := http2.NewHeaderCodec(4096)
	if _, err := codec.Decode(block); err == nil {
		t.Fatal("expected an error for a pseudo-header field following a regular header field")
	}
}

func TestHeaderCodecRejectsUppercaseHeaderName(t *testing.T) {
	block := rawBlock(t,
		hpack.HeaderField{Name: ":method", Value: "GET"},
		hpack.HeaderField{Name: ":path", Value: "/"},
		hpack.HeaderField{Name: ":scheme", Value: "http"},
		hpack.HeaderField{Name: ":authority", Value: "example.com"},
		hpack.HeaderField{Name: "X-Custom", Value: "v1"},
	)
	codec := http2.NewHeaderCodec(4096)
	if _, err := codec.Decode(block); err == nil {
		t.Fatal("expected an error for an uppercase header name")
	}
}

func TestHeaderCodecMergesMultipleCookieHeaders(t *testing.T) {
	block := rawBlock(t,
		hpack.HeaderField{Name: ":method", Value: "GET"},
		hpack.HeaderField{Name: ":path", Value: "/"},
		hpack.HeaderField{Name: ":scheme", Value: "http"},
		hpack.HeaderField{Name: ":authority", Value: "example.com"},
		hpack.HeaderField{Name: "cookie", Value: "a=1"},
		hpack.HeaderField{Name: "cookie", Value: "b=2"},
	)
	codec := http2.NewHeaderCodec(4096)
	decoded, err := codec.Decode(block)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, ok := decoded.Headers.Get("cookie")
	if !ok || v != "a=1; b=2" {
		t.Fatalf("expected merged cookie header %q, got %q (ok=%v)", "a=1; b=2", v, ok)
	}
}
