package http1

import (
	"bytes"
	"strings"

	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"

	"github.com/nodecore/triproto/pkg/httpmsg"
)

// negotiateEncoding picks a response content-encoding from the client's
// Accept-Encoding header, preferring gzip, then x-gzip, then deflate
// (spec.md §4.2). It returns "" when nothing advertised is supported.
func negotiateEncoding(acceptEncoding string) string {
	avail := map[string]bool{}
	for _, part := range strings.Split(acceptEncoding, ",") {
		name := strings.TrimSpace(part)
		if i := strings.IndexByte(name, ';'); i >= 0 {
			// Respect an explicit q=0 rejection.
			params := name[i+1:]
			name = strings.TrimSpace(name[:i])
			if strings.Contains(params, "q=0") && !strings.Contains(params, "q=0.") {
				continue
			}
		}
		avail[strings.ToLower(name)] = true
	}
	switch {
	case avail["gzip"]:
		return "gzip"
	case avail["x-gzip"]:
		return "x-gzip"
	case avail["deflate"]:
		return "deflate"
	}
	return ""
}

// shouldCompress decides whether the response body should be compressed
// (spec.md §4.2: only when the client advertises support, the user hasn't
// already set content-encoding, and body isn't a file range). File-range
// bodies are never compressed; a response has no option to request it.
func shouldCompress(enabled bool, req *httpmsg.Request, resp *httpmsg.Response) (string, bool) {
	if !enabled {
		return "", false
	}
	if resp.Headers.Has("content-encoding") {
		return "", false
	}
	if resp.Kind == httpmsg.BodyFile {
		return "", false
	}
	if resp.Kind == httpmsg.BodyNone {
		return "", false
	}
	ae, _ := req.Headers.Get("accept-encoding")
	enc := negotiateEncoding(ae)
	return enc, enc != ""
}

// compressBytes compresses p with the named encoding ("gzip", "x-gzip" or
// "deflate"), using klauspost/compress (a drop-in faster replacement for
// compress/gzip and compress/flate).
func compressBytes(enc string, p []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch enc {
	case "gzip", "x-gzip":
		w, err := kgzip.NewWriterLevel(&buf, kgzip.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(p); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "deflate":
		w, err := kflate.NewWriter(&buf, kflate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(p); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return p, nil
	}
	return buf.Bytes(), nil
}
