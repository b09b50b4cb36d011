package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/loopwire/loopwire/protoerr"
	"github.com/loopwire/loopwire/weburl"
)

// Version is the HTTP major.minor pair off the request/status line.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string { return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor) }

// RawMessage is the shared base of request and response messages: the
// parsed header dictionary, with methods that compute from the headers
// the flags the body dispatcher and connection-reuse logic need (spec §3
// RawMessage).
type RawMessage struct {
	Version Version
	Headers *weburl.Headers
}

// Upgraded reports whether this message negotiated a protocol upgrade
// (WebSocket, CONNECT tunnel): Connection contains "upgrade" and an
// Upgrade header is present.
func (m *RawMessage) Upgraded() bool {
	return headerTokenContains(m.Headers.Get("Connection"), "upgrade") && m.Headers.Has("Upgrade")
}

// Chunked reports whether Transfer-Encoding names "chunked".
func (m *RawMessage) Chunked() bool {
	return headerTokenContains(m.Headers.Get("Transfer-Encoding"), "chunked")
}

// ContentEncoding returns the normalized Content-Encoding token, or ""
// for identity/absent.
func (m *RawMessage) ContentEncoding() string {
	return strings.ToLower(strings.TrimSpace(m.Headers.Get("Content-Encoding")))
}

// KeepAlive reports whether the connection should be reused after this
// message completes: HTTP/1.1 defaults to keep-alive unless
// Connection: close is present; HTTP/1.0 defaults to close unless
// Connection: keep-alive is present.
func (m *RawMessage) KeepAlive() bool {
	conn := strings.ToLower(m.Headers.Get("Connection"))
	if m.Version.Major == 1 && m.Version.Minor == 0 {
		return headerTokenContains(conn, "keep-alive")
	}
	return !headerTokenContains(conn, "close")
}

func headerTokenContains(headerValue, token string) bool {
	for _, part := range strings.Split(headerValue, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// RawRequestMessage is an HTTP request line plus headers.
type RawRequestMessage struct {
	RawMessage
	Method string
	Path   string
}

// RawResponseMessage is an HTTP status line plus headers.
type RawResponseMessage struct {
	RawMessage
	Status int
	Reason string
}

// NoBody reports whether a response of this status never carries a
// body regardless of headers (spec §4.6.3 "Status 204 has no body").
func (m *RawResponseMessage) NoBody() bool {
	return m.Status == 204 || m.Status == 304 || (m.Status >= 100 && m.Status < 200)
}

var versionPrefix = []byte("HTTP/")

func parseVersion(tok []byte) (Version, error) {
	if !bytes.HasPrefix(tok, versionPrefix) {
		return Version{}, protoerr.Payload("invalid HTTP version token", tok)
	}
	rest := tok[len(versionPrefix):]
	dot := bytes.IndexByte(rest, '.')
	if dot < 0 || dot != 1 || len(rest) != 3 {
		return Version{}, protoerr.Payload("invalid HTTP version token", tok)
	}
	major := rest[0] - '0'
	minor := rest[2] - '0'
	if major > 9 || minor > 9 {
		return Version{}, protoerr.Payload("invalid HTTP version token", tok)
	}
	return Version{Major: major, Minor: minor}, nil
}

// ParseRequestLine reads "<method> <path> HTTP/<d>.<d>\r\n" from b
// (spec §4.6.1).
func ParseRequestLine(b *ReadBuffer) (*RawRequestMessage, error) {
	line, err := b.ReadUntilCRLF()
	if err != nil {
		return nil, err
	}
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return nil, protoerr.Payload("invalid request line", line)
	}
	version, err := parseVersion(parts[2])
	if err != nil {
		return nil, err
	}
	return &RawRequestMessage{
		RawMessage: RawMessage{Version: version, Headers: weburl.NewHeaders()},
		Method:     string(parts[0]),
		Path:       string(parts[1]),
	}, nil
}

// ParseResponseLine reads "HTTP/<d>.<d> <status> <reason?>\r\n" from b
// (spec §4.6.1).
func ParseResponseLine(b *ReadBuffer) (*RawResponseMessage, error) {
	line, err := b.ReadUntilCRLF()
	if err != nil {
		return nil, err
	}
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 {
		return nil, protoerr.Payload("invalid status line", line)
	}
	version, err := parseVersion(parts[0])
	if err != nil {
		return nil, err
	}
	status, err := strconv.Atoi(string(parts[1]))
	if err != nil || status < 100 || status > 599 {
		return nil, protoerr.Payload("invalid status code", line)
	}
	reason := ""
	if len(parts) == 3 {
		reason = string(parts[2])
	}
	return &RawResponseMessage{
		RawMessage: RawMessage{Version: version, Headers: weburl.NewHeaders()},
		Status:     status,
		Reason:     reason,
	}, nil
}

// ParseHeaders reads header lines up to and including the terminating
// blank line, folding continuation lines (leading SP/TAB) into the
// previous value (spec §4.6.2).
func ParseHeaders(b *ReadBuffer) (*weburl.Headers, error) {
	h := weburl.NewHeaders()
	var lastKey string
	for {
		line, err := b.ReadUntilCRLF()
		if err != nil {
			if protoerr.Is(err, protoerr.KindEOF) {
				return nil, protoerr.Payload("EOF while reading HTTP headers", nil)
			}
			return nil, err
		}
		if len(line) == 0 {
			return h, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			if lastKey == "" {
				return nil, protoerr.Payload("header folding with no prior header", line)
			}
			folded := strings.TrimSpace(string(line))
			vs := h.GetAll(lastKey)
			if len(vs) > 0 {
				vs[len(vs)-1] = vs[len(vs)-1] + " " + folded
			}
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, protoerr.Payload("malformed header line", line)
		}
		key := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))
		h.Add(key, value)
		lastKey = key
	}
}
