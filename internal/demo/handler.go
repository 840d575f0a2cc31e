// Package demo provides a minimal httpmsg.Handler and SocketHandler used
// by cmd/triproto so the binary is runnable out of the box; real
// deployments supply their own handler through the same interfaces.
package demo

import (
	"github.com/nodecore/triproto/pkg/httpmsg"
)

// Handler answers every request with a small text body, and upgrades any
// request to /echo on HTTP/1.1 into a WebSocket echo session.
type Handler struct{}

func (Handler) Serve(req *httpmsg.Request) (*httpmsg.Response, error) {
	if req.Path == "/echo" && req.Version != "HTTP/2" {
		return &httpmsg.Response{
			Upgrade: &httpmsg.UpgradeRequest{SocketHandler: EchoSocket{}},
		}, nil
	}
	return &httpmsg.Response{
		Status:  200,
		Headers: httpmsg.Headers{{Name: "content-type", Value: "text/plain"}},
		Kind:    httpmsg.BodyBytes,
		Bytes:   []byte("triproto: HTTP/1, HTTP/2 and WebSocket on one listener\n"),
	}, nil
}

// EchoSocket pushes back whatever a client sends it, unmodified.
type EchoSocket struct{}

func (EchoSocket) Init(opts any) (any, error) { return nil, nil }

func (EchoSocket) HandleIn(data []byte, opcode httpmsg.Opcode, state any) (httpmsg.Action, any, error) {
	return httpmsg.Action{
		Kind:     httpmsg.ActionPush,
		Messages: []httpmsg.OutMessage{{Opcode: opcode, Data: data}},
	}, state, nil
}

func (EchoSocket) HandleControl(data []byte, opcode httpmsg.Opcode, state any) (httpmsg.Action, any, error) {
	return httpmsg.Action{Kind: httpmsg.ActionOK}, state, nil
}

func (EchoSocket) HandleInfo(msg any, state any) (httpmsg.Action, any, error) {
	return httpmsg.Action{Kind: httpmsg.ActionOK}, state, nil
}

func (EchoSocket) Terminate(reason error, state any) {}
