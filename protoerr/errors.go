// Package protoerr defines the structured error taxonomy shared by the
// event loop and the HTTP/WebSocket protocol engine. Every kind carries
// its own payload instead of relying on string matching.
package protoerr

import "fmt"

// Kind enumerates the error roles described in the protocol design.
type Kind int

const (
	KindUnknown Kind = iota
	KindCancelled
	KindTimeout
	KindEOF
	KindPayload
	KindWebSocketProtocol
	KindConnectionClosed
	KindInvalidHandshake
	KindInvalidUpgrade
	KindInvalidOrigin
	KindAbortHandshake
	KindContentEncoding
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindEOF:
		return "eof"
	case KindPayload:
		return "payload"
	case KindWebSocketProtocol:
		return "websocket_protocol"
	case KindConnectionClosed:
		return "connection_closed"
	case KindInvalidHandshake:
		return "invalid_handshake"
	case KindInvalidUpgrade:
		return "invalid_upgrade"
	case KindInvalidOrigin:
		return "invalid_origin"
	case KindAbortHandshake:
		return "abort_handshake"
	case KindContentEncoding:
		return "content_encoding"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Error is the common structured error type. It carries a Kind plus an
// optional arbitrary payload (partial bytes, close code, HTTP response,
// connection key, wrapped cause) so callers never need to string-match.
type Error struct {
	Kind    Kind
	Message string
	Payload any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(kind Kind, msg string, payload any, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Payload: payload, Cause: cause}
}

// Cancelled marks a scheduled cancellation (Task.Cancel / Future.Cancel).
func Cancelled(msg string) *Error { return new(KindCancelled, msg, nil, nil) }

// Timeout marks a deadline hit, distinct from a user Cancelled.
func Timeout(msg string) *Error { return new(KindTimeout, msg, nil, nil) }

// EOFPartial carries whatever bytes were collected before EOF during a
// ReadExactly/ReadUntil that needed more data than the stream produced.
func EOFPartial(msg string, partial []byte) *Error {
	return new(KindEOF, msg, partial, nil)
}

// Payload marks a wire-format violation in HTTP/multipart/chunk parsing.
// raw carries the offending bytes when available.
func Payload(msg string, raw []byte) *Error {
	return new(KindPayload, msg, raw, nil)
}

// WebSocketProtocol marks a frame/handshake RFC 6455 violation.
func WebSocketProtocol(msg string) *Error { return new(KindWebSocketProtocol, msg, nil, nil) }

// ConnectionClosedPayload is the terminal state reported to WebSocket
// receivers: close code plus optional reason text.
type ConnectionClosedPayload struct {
	Code   uint16
	Reason string
}

// ConnectionClosed reports the terminal WebSocket connection state.
func ConnectionClosed(code uint16, reason string) *Error {
	return new(KindConnectionClosed, "connection closed", ConnectionClosedPayload{Code: code, Reason: reason}, nil)
}

// HandshakeResponsePayload carries the HTTP error response a failed
// server-side handshake must write back to the peer.
type HandshakeResponsePayload struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

func InvalidHandshake(msg string, resp HandshakeResponsePayload) *Error {
	return new(KindInvalidHandshake, msg, resp, nil)
}

func InvalidUpgrade(msg string, resp HandshakeResponsePayload) *Error {
	return new(KindInvalidUpgrade, msg, resp, nil)
}

func InvalidOrigin(msg string, resp HandshakeResponsePayload) *Error {
	return new(KindInvalidOrigin, msg, resp, nil)
}

// AbortHandshake is raised when user code vetoes a handshake explicitly.
func AbortHandshake(status int, headers map[string][]string, body []byte) *Error {
	return new(KindAbortHandshake, "handshake aborted by application", HandshakeResponsePayload{
		Status: status, Headers: headers, Body: body,
	}, nil)
}

// ContentEncoding marks an unsupported or undecodable content-encoding.
func ContentEncoding(msg string) *Error { return new(KindContentEncoding, msg, nil, nil) }

// ConnectionKeyPayload identifies which pooled connection a transport
// failure is attached to.
type ConnectionKeyPayload struct {
	Key any
}

// Connection wraps a transport-level failure, optionally tagging the
// connection key it happened on.
func Connection(msg string, key any, cause error) *Error {
	return new(KindConnection, msg, ConnectionKeyPayload{Key: key}, cause)
}

// Is walks err's Unwrap chain to the first *Error and reports whether
// that error has the given kind; *Error values further down the chain
// are not consulted.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if pe, ok := err.(*Error); ok {
			e = pe
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
