package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/nodecore/triproto/pkg/errors"
	"github.com/nodecore/triproto/pkg/httpmsg"
)

// ValidateUpgrade checks an HTTP/1.1 request against RFC 6455 §4.2.1
// (spec.md §4.4).
func ValidateUpgrade(req *httpmsg.Request) error {
	if req.Method != "GET" {
		return errors.NewRequestProtocolError("ws_upgrade", "method must be GET", 400)
	}
	if host, _ := req.Headers.Get("host"); host == "" {
		return errors.NewRequestProtocolError("ws_upgrade", "missing Host", 400)
	}
	if !req.Headers.HasToken("upgrade", "websocket") {
		return errors.NewRequestProtocolError("ws_upgrade", "missing Upgrade: websocket", 400)
	}
	if !req.Headers.HasToken("connection", "upgrade") {
		return errors.NewRequestProtocolError("ws_upgrade", "missing Connection: upgrade", 400)
	}
	keys := req.Headers.Values("sec-websocket-key")
	if len(keys) != 1 || keys[0] == "" {
		return errors.NewRequestProtocolError("ws_upgrade", "exactly one Sec-WebSocket-Key required", 400)
	}
	if v, _ := req.Headers.Get("sec-websocket-version"); v != "13" {
		return errors.NewRequestProtocolError("ws_upgrade", "Sec-WebSocket-Version must be 13", 400)
	}
	return nil
}

// Accept computes Sec-WebSocket-Accept from the client's key.
func Accept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(WSAcceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

const WSAcceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// DeflateOffer is one `permessage-deflate` offer parsed from
// Sec-WebSocket-Extensions.
type DeflateOffer struct {
	ServerNoContextTakeover bool
	ClientNoContextTakeover bool
	ServerMaxWindowBits     int
	ClientMaxWindowBits     int
}

// NegotiateDeflate parses Sec-WebSocket-Extensions and accepts the first
// permessage-deflate offer whose parameters are all recognized and valid
// (spec.md §4.4, RFC 7692).
func NegotiateDeflate(req *httpmsg.Request) (*DeflateOffer, bool) {
	for _, ext := range req.Headers.Values("sec-websocket-extensions") {
		for _, offerStr := range strings.Split(ext, ",") {
			offer, ok := parseDeflateOffer(offerStr)
			if ok {
				return offer, true
			}
		}
	}
	return nil, false
}

func parseDeflateOffer(s string) (*DeflateOffer, bool) {
	parts := strings.Split(s, ";")
	name := strings.TrimSpace(parts[0])
	if name != "permessage-deflate" {
		return nil, false
	}
	offer := &DeflateOffer{ServerMaxWindowBits: 15, ClientMaxWindowBits: 15}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		var val string
		if len(kv) == 2 {
			val = strings.Trim(strings.TrimSpace(kv[1]), `"`)
		}
		switch key {
		case "server_no_context_takeover":
			offer.ServerNoContextTakeover = true
		case "client_no_context_takeover":
			offer.ClientNoContextTakeover = true
		case "server_max_window_bits":
			bits, ok := parseWindowBits(val)
			if !ok {
				return nil, false
			}
			offer.ServerMaxWindowBits = bits
		case "client_max_window_bits":
			if val == "" {
				offer.ClientMaxWindowBits = 15
				continue
			}
			bits, ok := parseWindowBits(val)
			if !ok {
				return nil, false
			}
			offer.ClientMaxWindowBits = bits
		default:
			return nil, false // unrecognized parameter: reject this offer
		}
	}
	return offer, true
}

func parseWindowBits(val string) (int, bool) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	if n < 8 || n > 15 {
		return 0, false
	}
	return n, true
}

// EchoExtension builds the Sec-WebSocket-Extensions response value for a
// negotiated offer.
func (o *DeflateOffer) EchoExtension() string {
	s := "permessage-deflate"
	if o.ServerNoContextTakeover {
		s += "; server_no_context_takeover"
	}
	if o.ClientNoContextTakeover {
		s += "; client_no_context_takeover"
	}
	if o.ServerMaxWindowBits != 15 {
		s += "; server_max_window_bits=" + strconv.Itoa(o.ServerMaxWindowBits)
	}
	if o.ClientMaxWindowBits != 15 {
		s += "; client_max_window_bits=" + strconv.Itoa(o.ClientMaxWindowBits)
	}
	return s
}
