package websocket

import (
	"testing"

	"github.com/nodecore/triproto/pkg/httpmsg"
)

func validUpgradeRequest() *httpmsg.Request {
	h := httpmsg.Headers{}
	h.Add("host", "example.com")
	h.Add("upgrade", "websocket")
	h.Add("connection", "Upgrade")
	h.Add("sec-websocket-key", "dGhlIHNhbXBsZSBub25jZQ==")
	h.Add("sec-websocket-version", "13")
	return &httpmsg.Request{Method: "GET", Headers: h}
}

func TestValidateUpgradeAccepts(t *testing.T) {
	if err := ValidateUpgrade(validUpgradeRequest()); err != nil {
		t.Fatalf("expected a valid upgrade request to pass, got: %v", err)
	}
}

func TestValidateUpgradeRejectsWrongMethod(t *testing.T) {
	req := validUpgradeRequest()
	req.Method = "POST"
	if err := ValidateUpgrade(req); err == nil {
		t.Fatalf("expected error for non-GET upgrade request")
	}
}

func TestValidateUpgradeRejectsMissingKey(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Del("sec-websocket-key")
	if err := ValidateUpgrade(req); err == nil {
		t.Fatalf("expected error for missing Sec-WebSocket-Key")
	}
}

func TestValidateUpgradeRejectsWrongVersion(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Set("sec-websocket-version", "8")
	if err := ValidateUpgrade(req); err == nil {
		t.Fatalf("expected error for unsupported Sec-WebSocket-Version")
	}
}

func TestAcceptMatchesRFC6455Example(t *testing.T) {
	// The canonical worked example from RFC 6455 §1.3.
	got := Accept("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("Accept() = %q, want %q", got, want)
	}
}

func TestNegotiateDeflateParsesOffer(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Add("sec-websocket-extensions", "permessage-deflate; client_max_window_bits")

	offer, ok := NegotiateDeflate(req)
	if !ok {
		t.Fatalf("expected a recognized permessage-deflate offer")
	}
	if offer.ClientMaxWindowBits != 15 {
		t.Errorf("expected default client_max_window_bits 15, got %d", offer.ClientMaxWindowBits)
	}
	if offer.ServerNoContextTakeover {
		t.Errorf("expected server_no_context_takeover unset by default")
	}
}

func TestNegotiateDeflateRejectsUnknownParameter(t *testing.T) {
	req := validUpgradeRequest()
	req.Headers.Add("sec-websocket-extensions", "permessage-deflate; bogus_param=1")

	if _, ok := NegotiateDeflate(req); ok {
		t.Fatalf("expected an offer with an unrecognized parameter to be rejected")
	}
}

func TestNegotiateDeflateAbsent(t *testing.T) {
	req := validUpgradeRequest()
	if _, ok := NegotiateDeflate(req); ok {
		t.Fatalf("expected no offer when the extension header is absent")
	}
}

func TestEchoExtensionReflectsNegotiatedParameters(t *testing.T) {
	offer := &DeflateOffer{
		ServerNoContextTakeover: true,
		ServerMaxWindowBits:     15,
		ClientMaxWindowBits:     15,
	}
	got := offer.EchoExtension()
	if got != "permessage-deflate; server_no_context_takeover" {
		t.Errorf("EchoExtension() = %q", got)
	}
}
