package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loopwire/loopwire/client"
	"github.com/loopwire/loopwire/connector"
	"github.com/loopwire/loopwire/control"
	"github.com/loopwire/loopwire/internal/loop"
	"github.com/loopwire/loopwire/internal/obslog"
	"github.com/loopwire/loopwire/protocol"
)

func main() {
	evLoop, err := loop.New()
	if err != nil {
		obslog.For("echoclient").WithError(err).Fatal("create event loop")
	}
	go evLoop.Run()
	defer evLoop.Stop()

	metrics := control.NewMetrics(prometheus.NewRegistry())
	conn := connector.NewConnector(evLoop, func() *protocol.StreamProtocol {
		return protocol.NewStreamProtocol(evLoop)
	}, metrics)
	hc := client.NewHTTPClient(evLoop, conn, client.DefaultOptions())

	url := "ws://127.0.0.1:9001/"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	ws, err := hc.UpgradeWebSocket(context.Background(), url, nil, nil)
	if err != nil {
		obslog.For("echoclient").WithError(err).Fatal("websocket upgrade")
	}
	fmt.Println("connected, type a line and press enter (ctrl-d to quit)")

	go func() {
		for {
			msg, err := ws.Receive()
			if err != nil {
				return
			}
			fmt.Printf("echo: %s\n", msg.Data)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if err := ws.WriteFrame(protocol.OpText, []byte(line)); err != nil {
			break
		}
	}

	_ = ws.Close(1000, "bye")
}
