package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/loopwire/loopwire/internal/loop"
	"github.com/loopwire/loopwire/internal/obslog"
	"github.com/loopwire/loopwire/protoerr"
	"github.com/loopwire/loopwire/protocol"
	"github.com/loopwire/loopwire/weburl"
)

func main() {
	evLoop, err := loop.New()
	if err != nil {
		obslog.For("echoserver").WithError(err).Fatal("create event loop")
	}
	go evLoop.Run()
	defer evLoop.Stop()

	srv, err := evLoop.CreateServerTo(func() loop.Protocol {
		return newEchoConn(evLoop)
	}, "tcp", ":9001", loop.TLSConfig{})
	if err != nil {
		obslog.For("echoserver").WithError(err).Fatal("listen")
	}
	fmt.Printf("echo websocket server started on %s\n", srv.Addr())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	<-ctx.Done()

	fmt.Println("server shutting down")
	_ = srv.Close()
}

// echoConn drives one accepted connection through the HTTP upgrade
// handshake and then echoes every WebSocket message back verbatim.
type echoConn struct {
	evLoop *loop.EventLoop
	proto  *protocol.StreamProtocol
}

func newEchoConn(evLoop *loop.EventLoop) *protocol.StreamProtocol {
	e := &echoConn{evLoop: evLoop}
	e.proto = protocol.NewStreamProtocol(evLoop)
	e.proto.OnConnectionMade = func(t *loop.Transport) {
		go e.serve(t)
	}
	return e.proto
}

func (e *echoConn) serve(t *loop.Transport) {
	req, err := protocol.ParseRequestLine(e.proto.Read)
	if err != nil {
		t.Abort()
		return
	}
	headers, err := protocol.ParseHeaders(e.proto.Read)
	if err != nil {
		t.Abort()
		return
	}
	req.Headers = headers

	result, err := protocol.AcceptHandshake(req, protocol.ServerHandshakeOptions{})
	if err != nil {
		writeHandshakeError(t, err)
		return
	}

	protocol.WriteHTTPResponse(t.Write, 101, "Switching Protocols", protocol.Version{Major: 1, Minor: 1}, result.ResponseHeaders)

	conn := protocol.NewConn(e.evLoop, t, e.proto.Read, false, protocol.DefaultMaxSize, protocol.DefaultCloseTimeout, nil)
	conn.Start(context.Background())

	for {
		msg, err := conn.Receive()
		if err != nil {
			return
		}
		if err := conn.WriteFrame(msg.Opcode, msg.Data); err != nil {
			return
		}
	}
}

func writeHandshakeError(t *loop.Transport, err error) {
	status := 400
	headers := weburl.NewHeaders()
	if perr, ok := err.(*protoerr.Error); ok {
		if resp, ok := perr.Payload.(protoerr.HandshakeResponsePayload); ok {
			if resp.Status != 0 {
				status = resp.Status
			}
			for k, vs := range resp.Headers {
				for _, v := range vs {
					headers.Add(k, v)
				}
			}
		}
	}
	protocol.WriteHTTPResponse(t.Write, status, "", protocol.Version{Major: 1, Minor: 1}, headers)
	t.Close()
}
