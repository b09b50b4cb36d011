package protocol

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/loopwire/loopwire/protoerr"
)

// acceptedContentEncodings is the set the body dispatcher understands;
// anything else is a ContentEncodingError (spec §4.6.3, §6).
var acceptedContentEncodings = map[string]bool{
	"":         true,
	"identity": true,
	"gzip":     true,
	"deflate":  true,
	"br":       true,
}

func decodeContentEncoding(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", "identity":
		return raw, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, protoerr.Payload("invalid gzip stream", raw)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, protoerr.Payload("gzip decode failed", raw)
		}
		return out, nil
	case "deflate":
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, protoerr.Payload("deflate decode failed", raw)
		}
		return out, nil
	case "br":
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, protoerr.Payload("brotli decode failed", raw)
		}
		return out, nil
	default:
		return nil, protoerr.ContentEncoding("unsupported content-encoding: " + encoding)
	}
}

// BodyReaderFor chooses and runs the body reader for message, following
// the dispatch rules in spec §4.6.3: Content-Length, chunked,
// until-eof, or no body at all. isRequest/method distinguish the
// CONNECT/no-length-response cases; noBody additionally forces an empty
// body (e.g. HTTP 204, or a HEAD response).
func BodyReaderFor(b *ReadBuffer, headers *readMessageHeaders, isRequest bool, method string, noBody bool) PayloadReaderFunc {
	return func(rb *ReadBuffer) (any, error) {
		if headers.upgraded || noBody {
			return []byte{}, nil
		}

		var raw []byte
		var err error
		switch {
		case headers.contentLength >= 0:
			raw, err = rb.ReadExactly(headers.contentLength)
		case headers.chunked:
			raw, err = readChunkedBody(rb)
		case isRequest && method == "CONNECT":
			raw, err = rb.ReadUntilEOF()
		case !isRequest && headers.contentLength < 0:
			raw, err = rb.ReadUntilEOF()
		default:
			return []byte{}, nil
		}
		if err != nil {
			return nil, err
		}

		enc := headers.contentEncoding
		if !acceptedContentEncodings[strings.ToLower(enc)] {
			return nil, protoerr.ContentEncoding("unsupported content-encoding: " + enc)
		}
		return decodeContentEncoding(enc, raw)
	}
}

// readMessageHeaders is the subset of RawMessage the body dispatcher
// needs, decoupled from Request/Response so BodyReaderFor works for
// both (and for multipart sub-parts, which share the same rules).
type readMessageHeaders struct {
	contentLength   int // -1 if absent
	chunked         bool
	upgraded        bool
	contentEncoding string
}

// HeadersFor adapts a RawMessage into readMessageHeaders.
func HeadersFor(m *RawMessage) *readMessageHeaders {
	cl := -1
	if v := m.Headers.Get("Content-Length"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cl = n
		}
	}
	return &readMessageHeaders{
		contentLength:   cl,
		chunked:         m.Chunked(),
		upgraded:        m.Upgraded(),
		contentEncoding: m.ContentEncoding(),
	}
}

// readChunkedBody implements RFC 7230 §4.1 chunked transfer decoding:
// repeat "size<;ext?>\r\n<data>\r\n" until a zero-size chunk, then a
// trailer blank line (spec §4.6.3).
func readChunkedBody(b *ReadBuffer) ([]byte, error) {
	var out []byte
	for {
		sizeLine, err := b.ReadUntilCRLF()
		if err != nil {
			return nil, err
		}
		sizeTok := sizeLine
		if idx := bytes.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeTok = sizeLine[:idx]
		}
		size, err := strconv.ParseInt(string(bytes.TrimSpace(sizeTok)), 16, 64)
		if err != nil || size < 0 {
			return nil, protoerr.Payload("invalid chunk size", sizeLine)
		}
		if size == 0 {
			if _, err := b.ReadUntilCRLF(); err != nil {
				return nil, err
			}
			return out, nil
		}
		data, err := b.ReadExactly(int(size))
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		trailer, err := b.ReadExactly(2)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(trailer, []byte("\r\n")) {
			return nil, protoerr.Payload("missing CRLF after chunk data", trailer)
		}
	}
}
