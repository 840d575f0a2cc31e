package http1

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"github.com/nodecore/triproto/pkg/errors"
	"github.com/nodecore/triproto/pkg/httpmsg"
)

// requestLine is the parsed first line of an HTTP/1 request.
type requestLine struct {
	Method  string
	Target  string
	Version string // "1.0" or "1.1"
}

// readLine reads a single CRLF- or LF-terminated line, enforcing maxLen
// (spec.md §4.2 max_request_line_length / max_header_length). overflowErr
// is returned once the line exceeds maxLen, so callers can distinguish a
// too-long request line (414) from a too-long header line (431).
func readLine(r *bufio.Reader, maxLen int, overflowErr error) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			s := sb.String()
			s = strings.TrimSuffix(s, "\r")
			return s, nil
		}
		sb.WriteByte(b)
		// The CR of a CRLF terminator does not count toward maxLen.
		if sb.Len() > maxLen && !(b == '\r' && sb.Len() == maxLen+1) {
			return "", overflowErr
		}
	}
}

var (
	errRequestLineTooLong = fmt.Errorf("request line exceeds configured limit")
	errHeaderLineTooLong  = fmt.Errorf("header line exceeds configured limit")
)

// parseRequestLine parses "METHOD target HTTP/x.y".
func parseRequestLine(line string) (*requestLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line")
	}
	method, target, ver := parts[0], parts[1], parts[2]
	if !strings.HasPrefix(ver, "HTTP/") {
		return nil, fmt.Errorf("malformed version %q", ver)
	}
	v := strings.TrimPrefix(ver, "HTTP/")
	if v != "1.0" && v != "1.1" {
		return nil, fmt.Errorf("unsupported version %q", ver)
	}
	if method == "" || target == "" {
		return nil, fmt.Errorf("malformed request line")
	}
	return &requestLine{Method: method, Target: target, Version: v}, nil
}

// readHeaders reads header lines up to the blank line, enforcing
// maxHeaderLength per line and maxCount total (spec.md §4.2).
func readHeaders(r *bufio.Reader, maxHeaderLength, maxCount int) (httpmsg.Headers, error) {
	var headers httpmsg.Headers
	for {
		line, err := readLine(r, maxHeaderLength, errHeaderLineTooLong)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return headers, nil
		}
		if len(headers) >= maxCount {
			return nil, errTooManyHeaders
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("malformed header name %q", name)
		}
		headers.Add(name, value)
	}
}

var errTooManyHeaders = fmt.Errorf("too many headers")

// splitTarget separates path and query from a request-target, and resolves
// scheme/authority from the Host header for an origin-form target.
func splitTarget(target string, headers httpmsg.Headers, tlsOn bool) (path, query, scheme, authority string) {
	scheme = "http"
	if tlsOn {
		scheme = "https"
	}
	authority, _ = headers.Get("host")

	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		if u, err := url.Parse(target); err == nil {
			return u.Path, u.RawQuery, u.Scheme, u.Host
		}
	}
	p := target
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i], p[i+1:], scheme, authority
	}
	return p, "", scheme, authority
}

// classifyStatus maps a parse error to a 4xx per spec.md §4.2.
func classifyStatus(err error) (string, int) {
	switch err {
	case errRequestLineTooLong:
		return "request_uri_too_long", 414
	case errHeaderLineTooLong, errTooManyHeaders:
		return "request_header_fields_too_large", 431
	}
	return "bad_request", 400
}

func toRequestProtocolError(op string, err error) *errors.Error {
	msg, status := classifyStatus(err)
	return errors.NewRequestProtocolError(op, msg, status)
}
