package protocol

import (
	"strings"

	"github.com/loopwire/loopwire/protoerr"
	"github.com/loopwire/loopwire/weburl"
)

// ServerHandshakeOptions configures how IncomingHandshake negotiates a
// connection (spec §4.9 server side).
type ServerHandshakeOptions struct {
	AvailableSubprotocols []string
	AvailableExtensions   []string
	AllowedOrigins        []string // empty means any origin is accepted
	SelectSubprotocol     func(clientOffered []string) string
	ShuttingDown          bool
}

// ServerHandshakeResult is what the caller needs to finish accepting
// the upgrade: the 101 response headers, plus the negotiated
// subprotocol/extensions.
type ServerHandshakeResult struct {
	ResponseHeaders *weburl.Headers
	Subprotocol     string
	Extensions      []string
}

// AcceptHandshake validates req (an incoming upgrade request) and
// negotiates the response per spec §4.9. On failure it returns a
// protoerr carrying the HTTP error response the caller must write back.
func AcceptHandshake(req *RawRequestMessage, opts ServerHandshakeOptions) (*ServerHandshakeResult, error) {
	if opts.ShuttingDown {
		return nil, protoerr.InvalidHandshake("server shutting down", protoerr.HandshakeResponsePayload{
			Status: 503,
		})
	}

	if !headerTokenContains(req.Headers.Get("Connection"), "upgrade") {
		return nil, upgradeRequired()
	}
	upgrades := req.Headers.GetAll("Upgrade")
	if len(upgrades) != 1 || !strings.EqualFold(strings.TrimSpace(upgrades[0]), "websocket") {
		return nil, upgradeRequired()
	}

	key := req.Headers.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, badRequest("missing Sec-WebSocket-Key")
	}
	if req.Headers.Get("Sec-WebSocket-Version") != "13" {
		return nil, badRequest("unsupported Sec-WebSocket-Version")
	}

	if len(opts.AllowedOrigins) > 0 {
		origin := req.Headers.Get("Origin")
		if !contains(opts.AllowedOrigins, origin) {
			return nil, protoerr.InvalidOrigin("origin not allowed", protoerr.HandshakeResponsePayload{Status: 403})
		}
	}

	clientProtocols := splitCommaList(req.Headers.Get("Sec-WebSocket-Protocol"))
	subprotocol := ""
	if opts.SelectSubprotocol != nil {
		subprotocol = opts.SelectSubprotocol(clientProtocols)
	} else {
		subprotocol = selectSubprotocolByRank(clientProtocols, opts.AvailableSubprotocols)
	}

	clientExtensions := splitCommaList(req.Headers.Get("Sec-WebSocket-Extensions"))
	extensions := selectExtensionsGreedy(clientExtensions, opts.AvailableExtensions)

	h := weburl.NewHeaders()
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "Upgrade")
	h.Set("Sec-WebSocket-Accept", computeAccept(key))
	if subprotocol != "" {
		h.Set("Sec-WebSocket-Protocol", subprotocol)
	}
	if len(extensions) > 0 {
		h.Set("Sec-WebSocket-Extensions", strings.Join(extensions, ", "))
	}
	h.Set("Date", httpDate())
	h.Set("Server", "loopwire")

	return &ServerHandshakeResult{ResponseHeaders: h, Subprotocol: subprotocol, Extensions: extensions}, nil
}

func upgradeRequired() error {
	h := map[string][]string{"Upgrade": {"websocket"}}
	return protoerr.InvalidUpgrade("expected a websocket upgrade request", protoerr.HandshakeResponsePayload{
		Status: 426, Headers: h,
	})
}

func badRequest(msg string) error {
	return protoerr.InvalidHandshake(msg, protoerr.HandshakeResponsePayload{Status: 400})
}

// selectSubprotocolByRank picks the client-offered subprotocol with the
// lowest combined (client index + server index) rank (spec §4.9).
func selectSubprotocolByRank(clientOffered, serverAvailable []string) string {
	best := ""
	bestRank := -1
	for ci, c := range clientOffered {
		for si, s := range serverAvailable {
			if !strings.EqualFold(c, s) {
				continue
			}
			rank := ci + si
			if bestRank < 0 || rank < bestRank {
				bestRank = rank
				best = s
			}
		}
	}
	return best
}

// selectExtensionsGreedy walks clientOffered in order, keeping every one
// also present in serverAvailable (spec §4.9 "selects extensions
// greedily in the client's order").
func selectExtensionsGreedy(clientOffered, serverAvailable []string) []string {
	var out []string
	for _, c := range clientOffered {
		if contains(serverAvailable, c) {
			out = append(out, c)
		}
	}
	return out
}

func httpDate() string {
	return timeNowRFC1123()
}
