package pipeline

import (
	"errors"
	"io"
	"testing"

	apperrors "github.com/nodecore/triproto/pkg/errors"
	"github.com/nodecore/triproto/pkg/httpmsg"
	"github.com/nodecore/triproto/pkg/transport"
)

// fakeChunkSource yields each chunk in chunks, then returns endErr once all
// are exhausted.
type fakeChunkSource struct {
	chunks [][]byte
	endErr error
	i      int
}

func (f *fakeChunkSource) NextChunk() ([]byte, error) {
	if f.i >= len(f.chunks) {
		return nil, f.endErr
	}
	c := f.chunks[f.i]
	f.i++
	return c, nil
}

// fakeTransport is a minimal transport.Transport test double that records
// every call Run makes against it.
type fakeTransport struct {
	req       *httpmsg.Request
	readErr   error
	sentStats []sentHeader
	sentData  [][]byte
	closed    bool
}

type sentHeader struct {
	status      int
	headers     httpmsg.Headers
	disposition transport.Disposition
}

func (f *fakeTransport) ReadRequest() (*httpmsg.Request, error) { return f.req, f.readErr }
func (f *fakeTransport) SendHeaders(status int, headers httpmsg.Headers, d transport.Disposition) error {
	f.sentStats = append(f.sentStats, sentHeader{status, headers, d})
	return nil
}
func (f *fakeTransport) SendData(p []byte, end bool) error {
	f.sentData = append(f.sentData, p)
	return nil
}
func (f *fakeTransport) SendChunk(p []byte) error           { f.sentData = append(f.sentData, p); return nil }
func (f *fakeTransport) SendFile(string, int64, int64) error { return nil }
func (f *fakeTransport) EnsureCompleted() error              { return nil }
func (f *fakeTransport) Keepalive() bool                     { return true }
func (f *fakeTransport) Close() error                        { f.closed = true; return nil }

func basicRequest() *httpmsg.Request {
	return &httpmsg.Request{Method: "GET", Path: "/", Version: "HTTP/1.1"}
}

func TestRunCommitsSuccessfulBytesResponse(t *testing.T) {
	tr := &fakeTransport{req: basicRequest()}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return &httpmsg.Response{Status: 200, Kind: httpmsg.BodyBytes, Bytes: []byte("ok")}, nil
	})

	res, err := Run(tr, h, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Upgraded {
		t.Errorf("expected no upgrade")
	}
	if len(tr.sentStats) != 1 || tr.sentStats[0].status != 200 {
		t.Fatalf("expected one SendHeaders(200, ...) call, got %+v", tr.sentStats)
	}
	if len(tr.sentData) != 1 || string(tr.sentData[0]) != "ok" {
		t.Errorf("expected body %q sent, got %v", "ok", tr.sentData)
	}
}

func TestRunRecoversHandlerPanic(t *testing.T) {
	tr := &fakeTransport{req: basicRequest()}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		panic("boom")
	})

	res, err := Run(tr, h, Options{})
	if err == nil {
		t.Fatalf("expected Run to report the handler panic as an error")
	}
	if res == nil || res.Upgraded {
		t.Fatalf("expected a non-upgraded result even on panic")
	}
	if len(tr.sentStats) != 1 || tr.sentStats[0].status != 500 {
		t.Fatalf("expected a 500 fallback response, got %+v", tr.sentStats)
	}
}

func TestRunRejectsNilHandlerResponse(t *testing.T) {
	tr := &fakeTransport{req: basicRequest()}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return nil, nil
	})

	_, err := Run(tr, h, Options{})
	if err == nil {
		t.Fatalf("expected an error for a nil handler response")
	}
	if len(tr.sentStats) != 1 || tr.sentStats[0].status != 500 {
		t.Fatalf("expected a 500 fallback response, got %+v", tr.sentStats)
	}
}

func TestRunUsesMappedStatusFromStructuredHandlerError(t *testing.T) {
	tr := &fakeTransport{req: basicRequest()}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return nil, apperrors.NewRequestProtocolError("handler", "bad input", 400)
	})

	_, err := Run(tr, h, Options{})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if len(tr.sentStats) != 1 || tr.sentStats[0].status != 400 {
		t.Fatalf("expected a 400 fallback response for a validation error, got %+v", tr.sentStats)
	}
}

func TestRunSendsInterimResponseOn100Continue(t *testing.T) {
	req := basicRequest()
	req.Headers.Add("expect", "100-continue")
	tr := &fakeTransport{req: req}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return &httpmsg.Response{Status: 200, Kind: httpmsg.BodyNone}, nil
	})

	if _, err := Run(tr, h, Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.sentStats) != 2 {
		t.Fatalf("expected a 100-continue interim plus the final response, got %+v", tr.sentStats)
	}
	if tr.sentStats[0].status != 100 || tr.sentStats[0].disposition != transport.DispositionInform {
		t.Errorf("expected the first SendHeaders call to be the 100-continue interim, got %+v", tr.sentStats[0])
	}
}

func TestRunUpgradesOnValidWebSocketHandshake(t *testing.T) {
	req := basicRequest()
	req.Method = "GET"
	req.Headers.Add("host", "example.com")
	req.Headers.Add("upgrade", "websocket")
	req.Headers.Add("connection", "upgrade")
	req.Headers.Add("sec-websocket-key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Headers.Add("sec-websocket-version", "13")
	tr := &fakeTransport{req: req}

	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return &httpmsg.Response{Upgrade: &httpmsg.UpgradeRequest{}}, nil
	})

	res, err := Run(tr, h, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Upgraded {
		t.Fatalf("expected the result to report an upgrade")
	}
	if len(tr.sentStats) != 1 || tr.sentStats[0].status != 101 {
		t.Fatalf("expected a single 101 response, got %+v", tr.sentStats)
	}
	accept, ok := tr.sentStats[0].headers.Get("sec-websocket-accept")
	if !ok || accept != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("expected the RFC 6455 canonical accept value, got %q", accept)
	}
}

func TestRunRejectsInvalidWebSocketHandshake(t *testing.T) {
	req := basicRequest() // missing Upgrade/Connection/Sec-WebSocket-Key
	tr := &fakeTransport{req: req}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return &httpmsg.Response{Upgrade: &httpmsg.UpgradeRequest{}}, nil
	})

	res, err := Run(tr, h, Options{})
	if err == nil {
		t.Fatalf("expected an error for an invalid upgrade request")
	}
	if res.Upgraded {
		t.Fatalf("expected no upgrade to be reported")
	}
	if len(tr.sentStats) != 1 || tr.sentStats[0].status != 400 {
		t.Fatalf("expected a 400 fallback, got %+v", tr.sentStats)
	}
}

func TestCommitSendsBodyContentLengthOnHeadRequest(t *testing.T) {
	req := basicRequest()
	req.Method = "HEAD"
	tr := &fakeTransport{req: req}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return &httpmsg.Response{Status: 200, Kind: httpmsg.BodyBytes, Bytes: []byte("ignored-on-head")}, nil
	})

	if _, err := Run(tr, h, Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cl, ok := tr.sentStats[0].headers.Get("content-length")
	if !ok || cl != "15" {
		t.Errorf("expected content-length reflecting the body size even with no body sent, got %q", cl)
	}
	if len(tr.sentData) != 0 {
		t.Errorf("expected no body data sent for a HEAD request, got %v", tr.sentData)
	}
}

func TestCommitBytesAppliesNegotiatedCompression(t *testing.T) {
	tr := &fakeTransport{req: basicRequest()}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return &httpmsg.Response{Status: 200, Kind: httpmsg.BodyBytes, Bytes: []byte("plain")}, nil
	})
	opts := Options{
		Negotiate: func(req *httpmsg.Request, resp *httpmsg.Response) (string, bool) { return "gzip", true },
		Compress: func(encoding string, body []byte) ([]byte, error) {
			return []byte("compressed:" + string(body)), nil
		},
	}

	if _, err := Run(tr, h, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	enc, _ := tr.sentStats[0].headers.Get("content-encoding")
	if enc != "gzip" {
		t.Errorf("expected content-encoding gzip, got %q", enc)
	}
	if string(tr.sentData[0]) != "compressed:plain" {
		t.Errorf("expected compressed body sent, got %q", tr.sentData[0])
	}
}

func TestCommitFallsBackToUncompressedOnCompressError(t *testing.T) {
	tr := &fakeTransport{req: basicRequest()}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return &httpmsg.Response{Status: 200, Kind: httpmsg.BodyBytes, Bytes: []byte("plain")}, nil
	})
	opts := Options{
		Negotiate: func(req *httpmsg.Request, resp *httpmsg.Response) (string, bool) { return "gzip", true },
		Compress: func(encoding string, body []byte) ([]byte, error) {
			return nil, errors.New("boom")
		},
	}

	if _, err := Run(tr, h, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := tr.sentStats[0].headers.Get("content-encoding"); ok {
		t.Errorf("expected no content-encoding header when compression fails")
	}
	if string(tr.sentData[0]) != "plain" {
		t.Errorf("expected uncompressed body sent on compression failure, got %q", tr.sentData[0])
	}
}

func TestCommitChunkedEndsCleanlyOnEOF(t *testing.T) {
	tr := &fakeTransport{req: basicRequest()}
	src := &fakeChunkSource{chunks: [][]byte{[]byte("a"), []byte("b")}, endErr: io.EOF}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return &httpmsg.Response{Status: 200, Kind: httpmsg.BodyChunked, Stream: src}, nil
	})

	if _, err := Run(tr, h, Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.sentData) != 3 || string(tr.sentData[0]) != "a" || string(tr.sentData[1]) != "b" || tr.sentData[2] != nil {
		t.Fatalf("expected chunks a, b, then a nil terminator, got %v", tr.sentData)
	}
}

func TestCommitChunkedSurfacesNonEOFSourceError(t *testing.T) {
	tr := &fakeTransport{req: basicRequest()}
	boom := errors.New("upstream read failed")
	src := &fakeChunkSource{chunks: [][]byte{[]byte("a")}, endErr: boom}
	h := httpmsg.HandlerFunc(func(req *httpmsg.Request) (*httpmsg.Response, error) {
		return &httpmsg.Response{Status: 200, Kind: httpmsg.BodyChunked, Stream: src}, nil
	})

	_, err := Run(tr, h, Options{})
	if err != boom {
		t.Fatalf("expected the chunk source's own error to propagate, got %v", err)
	}
	if len(tr.sentData) != 2 || string(tr.sentData[0]) != "a" || tr.sentData[1] != nil {
		t.Fatalf("expected chunk a then a nil terminator still written before surfacing the error, got %v", tr.sentData)
	}
}
