package protocol

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/loopwire/loopwire/protoerr"
	"github.com/loopwire/loopwire/weburl"
)

// websocketGUID is the RFC 6455 key constant used to compute
// Sec-WebSocket-Accept (spec §6, §4.9).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ClientHandshakeRequest is the outgoing upgrade request plus the
// locally-generated key needed to validate the server's response.
type ClientHandshakeRequest struct {
	Headers *weburl.Headers
	key     string
}

// BuildClientHandshake constructs the upgrade request headers for host,
// with optional origin/subprotocols/extensions/basic-auth
// (spec §4.9).
func BuildClientHandshake(host, origin string, subprotocols []string, extensions []string, basicAuth string) *ClientHandshakeRequest {
	var keyBytes [16]byte
	_, _ = rand.Read(keyBytes[:])
	key := base64.StdEncoding.EncodeToString(keyBytes[:])

	h := weburl.NewHeaders()
	h.Set("Host", host)
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "Upgrade")
	h.Set("Sec-WebSocket-Key", key)
	h.Set("Sec-WebSocket-Version", "13")
	if origin != "" {
		h.Set("Origin", origin)
	}
	if len(subprotocols) > 0 {
		h.Set("Sec-WebSocket-Protocol", strings.Join(subprotocols, ", "))
	}
	if len(extensions) > 0 {
		h.Set("Sec-WebSocket-Extensions", strings.Join(extensions, ", "))
	}
	if basicAuth != "" {
		h.Set("Authorization", "Basic "+basicAuth)
	}
	return &ClientHandshakeRequest{Headers: h, key: key}
}

func computeAccept(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ValidateServerHandshake checks the server's 101 response against the
// request's key and the client's advertised subprotocols/extensions,
// returning the negotiated subprotocol and extension names (spec §4.9).
func ValidateServerHandshake(req *ClientHandshakeRequest, resp *RawResponseMessage, advertisedSubprotocols, advertisedExtensions []string) (subprotocol string, extensions []string, err error) {
	if resp.Status != 101 {
		return "", nil, protoerr.InvalidHandshake("expected 101 Switching Protocols", protoerr.HandshakeResponsePayload{})
	}
	if resp.Version.Major != 1 || resp.Version.Minor != 1 {
		return "", nil, protoerr.InvalidHandshake("expected HTTP/1.1", protoerr.HandshakeResponsePayload{})
	}
	if !headerTokenContains(resp.Headers.Get("Connection"), "upgrade") {
		return "", nil, protoerr.InvalidUpgrade("missing Connection: Upgrade", protoerr.HandshakeResponsePayload{})
	}
	upgrades := resp.Headers.GetAll("Upgrade")
	if len(upgrades) != 1 || !strings.EqualFold(strings.TrimSpace(upgrades[0]), "websocket") {
		return "", nil, protoerr.InvalidUpgrade("expected exactly one Upgrade: websocket", protoerr.HandshakeResponsePayload{})
	}
	accept := resp.Headers.Get("Sec-WebSocket-Accept")
	if accept != computeAccept(req.key) {
		return "", nil, protoerr.InvalidHandshake("Sec-WebSocket-Accept mismatch", protoerr.HandshakeResponsePayload{})
	}

	subprotocol = strings.TrimSpace(resp.Headers.Get("Sec-WebSocket-Protocol"))
	if subprotocol != "" && !contains(advertisedSubprotocols, subprotocol) {
		return "", nil, protoerr.InvalidHandshake("server selected a subprotocol we did not advertise", protoerr.HandshakeResponsePayload{})
	}

	if negotiated := resp.Headers.Get("Sec-WebSocket-Extensions"); negotiated != "" {
		for _, name := range splitCommaList(negotiated) {
			if !contains(advertisedExtensions, name) {
				return "", nil, protoerr.InvalidHandshake("server negotiated an unadvertised extension", protoerr.HandshakeResponsePayload{})
			}
			extensions = append(extensions, name)
		}
	}
	return subprotocol, extensions, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(strings.TrimSpace(x), v) {
			return true
		}
	}
	return false
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
