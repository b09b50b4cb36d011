package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loopwire/loopwire/connector"
	"github.com/loopwire/loopwire/protocol"
	"github.com/loopwire/loopwire/weburl"
)

// ClientResponse drives one request/response exchange over a pooled
// connection: write the request, read the status line/headers via the
// payload reader, then lazily drain the body (spec §4.10
// "ClientResponse lifecycle").
type ClientResponse struct {
	conn    *connector.PooledConn
	target  connector.RequestTarget
	pool    *connector.Connector
	req     *ClientRequest

	Status  int
	Reason  string
	Headers *weburl.Headers
	Version protocol.Version

	body       []byte
	bodyRead   bool
	released   bool
	noBody     bool
}

// Do writes req over conn and blocks for the status line and headers
// (spec step 1: "start() reads raw response headers via payload reader
// _read_http_response"). The body is not read yet.
func Do(pool *connector.Connector, conn *connector.PooledConn, target connector.RequestTarget, req *ClientRequest) (*ClientResponse, error) {
	writeRequest(conn, req)

	fut := conn.Proto.Read.SetPayloadReader(func(rb *protocol.ReadBuffer) (any, error) {
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
		return nil, err
	}
	resp := v.(*protocol.RawResponseMessage)

	cr := &ClientResponse{
		conn:    conn,
		target:  target,
		pool:    pool,
		req:     req,
		Status:  resp.Status,
		Reason:  resp.Reason,
		Headers: resp.Headers,
		Version: resp.Version,
		noBody:  req.Method == "HEAD" || resp.NoBody(),
	}
	return cr, nil
}

func writeRequest(conn *connector.PooledConn, req *ClientRequest) {
	protocol.WriteHTTPRequest(conn.Transport.Write, req.Method, req.RequestPath(), req.Version, req.Headers)
	if len(req.Data) == 0 {
		return
	}
	w, err := protocol.NewHTTPStreamWriter(conn.Transport, req.Chunked, "")
	if err != nil {
		return
	}
	_ = w.Write(req.Data)
	_ = w.WriteEOF()
}

// Read drains and returns the full body, decoding content-encoding
// (spec step 3, "payload_reader_for(message)"). Safe to call more than
// once; subsequent calls return the cached bytes.
func (r *ClientResponse) Read() ([]byte, error) {
	if r.bodyRead {
		return r.body, nil
	}
	raw := &protocol.RawMessage{Version: r.Version, Headers: r.Headers}
	headers := protocol.HeadersFor(raw)

	fut := r.conn.Proto.Read.SetPayloadReader(
		protocol.BodyReaderFor(r.conn.Proto.Read, headers, false, r.req.Method, r.noBody),
	)
	v, err := fut.Await()
	if err != nil {
		r.responseEOF(true)
		return nil, err
	}
	r.body = v.([]byte)
	r.bodyRead = true
	r.responseEOF(false)
	return r.body, nil
}

// Text returns the body as a string without transcoding it: neither the
// encoding argument nor a Content-Type charset parameter is applied, so
// bytes in any charset other than UTF-8 are returned unconverted.
func (r *ClientResponse) Text(encoding string) (string, error) {
	body, err := r.Read()
	if err != nil {
		return "", err
	}
	if encoding != "" {
		return string(body), nil
	}
	// The Content-Type is parsed, but its charset does not change the
	// result.
	_, _, _ = protocol.ParseMimeType(r.Headers.Get("Content-Type"))
	return string(body), nil
}

// JSON decodes the body as JSON into v. A non-empty Content-Type header
// that does not contain "json" is rejected.
func (r *ClientResponse) JSON(v any) error {
	body, err := r.Read()
	if err != nil {
		return err
	}
	ct := r.Headers.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "json") {
		return fmt.Errorf("client: response content-type %q is not JSON", ct)
	}
	return json.Unmarshal(bytes.TrimSpace(body), v)
}

// KeepAlive reports whether the connection may be returned to the pool
// once the body finishes (spec step 4).
func (r *ClientResponse) KeepAlive() bool {
	raw := &protocol.RawMessage{Version: r.Version, Headers: r.Headers}
	return raw.KeepAlive()
}

// responseEOF releases the connection: closes it on error or a
// non-keep-alive response, else returns it to the pool (spec step 4
// "_response_eof").
func (r *ClientResponse) responseEOF(errored bool) {
	if r.released {
		return
	}
	r.released = true
	shouldClose := errored || !r.KeepAlive()
	r.pool.Release(r.target, r.conn, shouldClose)
}

// Close marks the response (and its connection) broken; idempotent
// (spec step 5 "close() marks as broken").
func (r *ClientResponse) Close() {
	r.responseEOF(true)
}

// Release marks the response done and reusable; idempotent (spec step 5
// "release() marks as reusable").
func (r *ClientResponse) Release() {
	r.responseEOF(false)
}
