package http1

import (
	"compress/gzip"
	"io"
	"strings"
	"testing"

	"github.com/nodecore/triproto/pkg/httpmsg"
)

func TestNegotiateEncodingPrefersGzip(t *testing.T) {
	if got := negotiateEncoding("deflate, gzip"); got != "gzip" {
		t.Errorf("expected gzip preferred over deflate, got %q", got)
	}
}

func TestNegotiateEncodingRespectsQZero(t *testing.T) {
	if got := negotiateEncoding("gzip;q=0, deflate"); got != "deflate" {
		t.Errorf("expected gzip rejected by q=0, got %q", got)
	}
}

func TestNegotiateEncodingNoneSupported(t *testing.T) {
	if got := negotiateEncoding("br"); got != "" {
		t.Errorf("expected no match for unsupported encoding, got %q", got)
	}
}

func TestShouldCompressSkipsExistingEncoding(t *testing.T) {
	req := &httpmsg.Request{Headers: httpmsg.Headers{{Name: "accept-encoding", Value: "gzip"}}}
	resp := &httpmsg.Response{
		Kind:    httpmsg.BodyBytes,
		Headers: httpmsg.Headers{{Name: "content-encoding", Value: "br"}},
	}
	if _, ok := shouldCompress(true, req, resp); ok {
		t.Errorf("expected no compression when content-encoding is already set")
	}
}

func TestShouldCompressSkipsFileBody(t *testing.T) {
	req := &httpmsg.Request{Headers: httpmsg.Headers{{Name: "accept-encoding", Value: "gzip"}}}
	resp := &httpmsg.Response{Kind: httpmsg.BodyFile}
	if _, ok := shouldCompress(true, req, resp); ok {
		t.Errorf("expected no compression for a file body")
	}
}

func TestShouldCompressWhenDisabled(t *testing.T) {
	req := &httpmsg.Request{Headers: httpmsg.Headers{{Name: "accept-encoding", Value: "gzip"}}}
	resp := &httpmsg.Response{Kind: httpmsg.BodyBytes}
	if _, ok := shouldCompress(false, req, resp); ok {
		t.Errorf("expected no compression when compress option is disabled")
	}
}

func TestCompressBytesGzipRoundtrip(t *testing.T) {
	out, err := compressBytes("gzip", []byte("hello compressed world"))
	if err != nil {
		t.Fatalf("compressBytes: %v", err)
	}
	zr, err := gzip.NewReader(strings.NewReader(string(out)))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if string(plain) != "hello compressed world" {
		t.Errorf("roundtrip mismatch: %q", plain)
	}
}
