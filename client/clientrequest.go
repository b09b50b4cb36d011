package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loopwire/loopwire/protocol"
	"github.com/loopwire/loopwire/weburl"
)

// ClientRequest holds every input needed to prepare an outgoing HTTP
// request's wire form (spec §4.10 "ClientRequest holds (method, url,
// headers, data?, params?, cookies?, auth?, proxy?, proxy_auth?, ssl?,
// version)").
type ClientRequest struct {
	Method  string
	URL     *weburl.URL
	Headers *weburl.Headers
	Data    []byte
	Params  map[string][]string
	Cookies []Cookie
	Auth    *BasicAuthorization
	Version protocol.Version
	Chunked bool
}

// NewClientRequest returns a request with default headers and an empty
// body, Version defaulting to HTTP/1.1.
func NewClientRequest(method string, url *weburl.URL) *ClientRequest {
	return &ClientRequest{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: weburl.NewHeaders(),
		Version: protocol.Version{Major: 1, Minor: 1},
	}
}

// Prepare resolves the full wire form: merges Params into the URL query,
// resolves Auth into an Authorization header, attaches Host, attaches
// Content-Length or Transfer-Encoding: chunked for Data, and attaches
// any matching jar cookies as a single Cookie header (spec §4.10).
func (r *ClientRequest) Prepare(jar *CookieJar) {
	for k, vs := range r.Params {
		for _, v := range vs {
			r.URL.Query.Add(k, v)
		}
	}

	r.Headers.SetDefault("Host", r.URL.Host)

	if r.Auth != nil {
		r.Headers.Set("Authorization", r.Auth.Header())
	}

	if len(r.Data) > 0 || r.Method == "POST" || r.Method == "PUT" || r.Method == "PATCH" {
		if r.Chunked {
			r.Headers.Set("Transfer-Encoding", "chunked")
		} else {
			r.Headers.Set("Content-Length", strconv.Itoa(len(r.Data)))
		}
	}

	var cookies []Cookie
	if jar != nil {
		cookies = jar.CookiesFor(r.URL)
	}
	cookies = append(cookies, r.Cookies...)
	if len(cookies) > 0 {
		r.Headers.Set("Cookie", encodeCookieHeader(cookies))
	}
}

func encodeCookieHeader(cookies []Cookie) string {
	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = fmt.Sprintf("%s=%s", c.Name, c.Value)
	}
	return strings.Join(parts, "; ")
}

// RequestPath renders the path+query component sent on the request line
// (percent-encoded path plus the merged query string).
func (r *ClientRequest) RequestPath() string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if q := r.URL.Query.Encode(); q != "" {
		return path + "?" + q
	}
	return path
}
