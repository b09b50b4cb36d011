package connector

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"

	"github.com/loopwire/loopwire/internal/loop"
	"github.com/loopwire/loopwire/protocol"
	"github.com/loopwire/loopwire/protoerr"
)

func basicAuthHeader(user, password string) string {
	raw := user + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// ProxyAuth is a resolved Basic-auth credential for a proxy (spec §4.11
// "proxy_auth").
type ProxyAuth struct {
	User     string
	Password string
}

// BasicProxyAuthHeader renders "Basic <base64(user:password)>" for a
// Proxy-Authorization header on plain (non-tunneled) HTTP requests routed
// through a proxy.
func BasicProxyAuthHeader(auth *ProxyAuth) string {
	if auth == nil {
		return ""
	}
	return basicAuthHeader(auth.User, auth.Password)
}

// ConnectThroughProxy opens network/proxyAddr, issues an HTTP CONNECT to
// targetHost:targetPort, and on a 200 response returns the tunnel's raw
// net.Conn (spec §4.11 scenario S6 "Proxy CONNECT tunnel"). If isSSL is
// set, a client TLS handshake for targetHost is layered on top of the
// tunnel before returning — this is the only case where TLS SNI must
// name the origin rather than the proxy.
func ConnectThroughProxy(ctx context.Context, evLoop *loop.EventLoop, network, proxyAddr string, targetHost string, targetPort int, auth *ProxyAuth, isSSL bool, tlsConfig *tls.Config) (net.Conn, error) {
	conn, err := evLoop.DialRaw(ctx, network, proxyAddr)
	if err != nil {
		return nil, err
	}

	target := fmt.Sprintf("%s:%d", targetHost, targetPort)
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if auth != nil {
		req += "Proxy-Authorization: " + basicAuthHeader(auth.User, auth.Password) + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	status, err := readConnectResponse(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if status != 200 {
		_ = conn.Close()
		return nil, protoerr.Connection(fmt.Sprintf("proxy CONNECT rejected with status %d", status), target, nil)
	}

	if !isSSL {
		return conn, nil
	}

	cfg := tlsConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cloned := cfg.Clone()
		cloned.ServerName = targetHost
		cfg = cloned
	}
	tlsConn, err := evLoop.UpgradeClientTLS(ctx, conn, loop.TLSConfig{Config: cfg})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// readConnectResponse reads a status line and headers off the freshly
// dialed proxy socket using the same ReadBuffer the loop's HTTP layer
// parses with elsewhere: a parser goroutine blocks on the buffer's
// Read* methods while this goroutine pumps conn.Read and feeds it, since
// no Transport/event-loop wiring exists yet at this point in the
// handshake.
func readConnectResponse(conn net.Conn) (int, error) {
	rb := protocol.NewReadBuffer(nil)
	type result struct {
		status int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := protocol.ParseResponseLine(rb)
		if err != nil {
			done <- result{0, err}
			return
		}
		_, err = protocol.ParseHeaders(rb)
		done <- result{resp.Status, err}
	}()

	buf := make([]byte, 4096)
	for {
		select {
		case r := <-done:
			return r.status, r.err
		default:
		}
		n, rerr := conn.Read(buf)
		if n > 0 {
			rb.Feed(buf[:n])
		}
		if rerr != nil {
			rb.FeedException(rerr)
			r := <-done
			return r.status, r.err
		}
	}
}
