package client

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/loopwire/loopwire/connector"
	"github.com/loopwire/loopwire/internal/loop"
	"github.com/loopwire/loopwire/protocol"
	"github.com/loopwire/loopwire/weburl"
)

// Options configures redirect and connection-pool behavior (spec §4.10,
// SPEC_FULL.md §6 Open Question #2).
type Options struct {
	MaxRedirects int
	// LaxRedirects follows the historically common (but RFC-violating)
	// browser behavior of downgrading 301/302 POST to GET the same way
	// 303 does. The default (false) is RFC-strict: 301/302 preserve the
	// original method, only 303 downgrades to GET.
	LaxRedirects bool
	TLSConfig    *tls.Config
}

// DefaultOptions mirrors the spec's defaults: 10 redirect hops, RFC
// strict.
func DefaultOptions() Options {
	return Options{MaxRedirects: 10}
}

// HTTPClient issues requests through a shared Connector and CookieJar,
// following redirects and collecting response history (spec §4.10
// "HTTPClient.request").
type HTTPClient struct {
	evLoop    *loop.EventLoop
	connector *connector.Connector
	jar       *CookieJar
	opts      Options
}

// NewHTTPClient wires a connector (built with a StreamProtocol factory
// bound to evLoop) and an empty cookie jar.
func NewHTTPClient(evLoop *loop.EventLoop, conn *connector.Connector, opts Options) *HTTPClient {
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = DefaultOptions().MaxRedirects
	}
	return &HTTPClient{evLoop: evLoop, connector: conn, jar: NewCookieJar(), opts: opts}
}

// Jar returns the client's cookie jar, e.g. to pre-seed cookies or
// inspect what a prior request received.
func (c *HTTPClient) Jar() *CookieJar { return c.jar }

// Request issues method against rawURL, following redirects per c.opts,
// and returns the final response together with the full redirect
// history (earliest first) (spec §4.10 "history list collected into the
// final response").
func (c *HTTPClient) Request(ctx context.Context, method, rawURL string, headers *weburl.Headers, data []byte) (*ClientResponse, []*ClientResponse, error) {
	u, err := weburl.Parse(rawURL)
	if err != nil {
		return nil, nil, err
	}

	var history []*ClientResponse
	for hop := 0; ; hop++ {
		if hop > c.opts.MaxRedirects {
			return nil, history, fmt.Errorf("client: exceeded %d redirects", c.opts.MaxRedirects)
		}

		req := NewClientRequest(method, u)
		if headers != nil {
			req.Headers.Extend(headers)
		}
		req.Data = data
		req.Prepare(c.jar)

		target := connector.RequestTarget{
			Host:      u.Host,
			Port:      u.EffectivePort(),
			IsSSL:     u.IsSSL(),
			TLSConfig: c.opts.TLSConfig,
		}
		pc, err := c.connector.Acquire(ctx, target)
		if err != nil {
			return nil, history, err
		}

		resp, err := Do(c.connector, pc, target, req)
		if err != nil {
			return nil, history, err
		}
		c.storeCookies(resp, u)

		if !isRedirect(resp.Status) {
			return resp, history, nil
		}

		location := resp.Headers.Get("Location")
		if location == "" {
			return resp, history, nil
		}
		history = append(history, resp)
		_, _ = resp.Read() // drain so the connection can be released/reused
		resp.Release()

		next, err := u.ResolveReference(location)
		if err != nil {
			return nil, history, err
		}
		u = next
		method, data = redirectMethod(resp.Status, method, data, c.opts.LaxRedirects)
	}
}

func isRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

// redirectMethod implements spec §4.10's downgrade rule: 303 always
// downgrades to GET with no body; 307/308 always preserve method and
// body; 301/302 preserve the method unless LaxRedirects requests the
// traditional browser downgrade-on-POST behavior (SPEC_FULL.md §6 Open
// Question #2).
func redirectMethod(status int, method string, data []byte, lax bool) (string, []byte) {
	switch status {
	case 303:
		return "GET", nil
	case 307, 308:
		return method, data
	default: // 301, 302
		if lax && method == "POST" {
			return "GET", nil
		}
		return method, data
	}
}

func (c *HTTPClient) storeCookies(resp *ClientResponse, u *weburl.URL) {
	for _, raw := range resp.Headers.GetAll("Set-Cookie") {
		if ck, ok := parseSetCookie(raw, u.Host); ok {
			c.jar.SetCookie(ck)
		}
	}
}

// UpgradeWebSocket performs the HTTP/1.1 WebSocket handshake against
// rawURL and, on success, hands the transport off to a
// protocol.Conn in client mode (spec §4.10 "WebSocket upgrade variant
// uses the same flow but completes with the WebSocket protocol handing
// off the transport").
func (c *HTTPClient) UpgradeWebSocket(ctx context.Context, rawURL string, subprotocols []string, extensions []protocol.Extension) (*protocol.Conn, error) {
	u, err := weburl.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	target := connector.RequestTarget{
		Host:      u.Host,
		Port:      u.EffectivePort(),
		IsSSL:     u.IsSSL(),
		TLSConfig: c.opts.TLSConfig,
	}
	pc, err := c.connector.Acquire(ctx, target)
	if err != nil {
		return nil, err
	}

	extNames := extensionNames(extensions)
	req := protocol.BuildClientHandshake(u.Host, "", subprotocols, extNames, "")
	protocol.WriteHTTPRequest(pc.Transport.Write, "GET", u.Path, protocol.Version{Major: 1, Minor: 1}, req.Headers)

	fut := pc.Proto.Read.SetPayloadReader(func(rb *protocol.ReadBuffer) (any, error) {
		resp, err := protocol.ParseResponseLine(rb)
		if err != nil {
			return nil, err
		}
		headers, err := protocol.ParseHeaders(rb)
		if err != nil {
			return nil, err
		}
		resp.Headers = headers
		return resp, nil
	})
	v, err := fut.Await()
	if err != nil {
		c.connector.Release(target, pc, true)
		return nil, err
	}
	resp := v.(*protocol.RawResponseMessage)
	_, negotiated, err := protocol.ValidateServerHandshake(req, resp, subprotocols, extNames)
	if err != nil {
		c.connector.Release(target, pc, true)
		return nil, err
	}

	active := selectExtensions(extensions, negotiated)
	conn := protocol.NewConn(c.evLoop, pc.Transport, pc.Proto.Read, true, protocol.DefaultMaxSize, protocol.DefaultCloseTimeout, active)
	conn.Start(ctx)
	return conn, nil
}

func extensionNames(extensions []protocol.Extension) []string {
	names := make([]string, len(extensions))
	for i, e := range extensions {
		names[i] = e.Name()
	}
	return names
}

func selectExtensions(extensions []protocol.Extension, negotiated []string) []protocol.Extension {
	var out []protocol.Extension
	for _, e := range extensions {
		for _, name := range negotiated {
			if e.Name() == name {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
