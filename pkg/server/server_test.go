package server_test

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"golang.org/x/net/http2"

	"github.com/nodecore/triproto/internal/demo"
	"github.com/nodecore/triproto/pkg/server"
)

func startTestServer(t *testing.T) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	srv := server.New(ln, demo.Handler{}, server.DefaultOptions())
	go srv.Serve()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr()
}

func TestServerServesPlainHTTP1Request(t *testing.T) {
	addr := startTestServer(t)

	resp, err := http.Get("http://" + addr.String() + "/")
	if err != nil {
		t.Fatalf("http.Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) == 0 {
		t.Errorf("expected a non-empty response body")
	}
}

func TestServerServesH2COverPlaintext(t *testing.T) {
	addr := startTestServer(t)

	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, address string, cfg *tls.Config) (net.Conn, error) {
			return net.Dial(network, address)
		},
	}
	client := &http.Client{Transport: transport, Timeout: 5 * time.Second}

	resp, err := client.Get("http://" + addr.String() + "/")
	if err != nil {
		t.Fatalf("client.Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.ProtoMajor != 2 {
		t.Errorf("expected an HTTP/2 response, got proto %s", resp.Proto)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestServerUpgradesToWebSocketEcho(t *testing.T) {
	addr := startTestServer(t)

	dialer := gorillaws.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial("ws://"+addr.String()+"/echo", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	if err := conn.WriteMessage(gorillaws.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected echoed %q, got %q", "hello", data)
	}
}
