package protocol

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime/quotedprintable"
	"strconv"
	"strings"

	"github.com/loopwire/loopwire/protoerr"
	"github.com/loopwire/loopwire/weburl"
)

// MultipartPart is one decoded part of a multipart body: its own header
// dictionary plus the fully decoded payload bytes (spec §4.6.4).
type MultipartPart struct {
	Headers *weburl.Headers
	Body    []byte
}

// BoundaryFromContentType extracts the boundary parameter from a
// "multipart/…; boundary=X" Content-Type value.
func BoundaryFromContentType(contentType string) (string, error) {
	_, params, err := ParseMimeType(contentType)
	if err != nil {
		return "", err
	}
	b, ok := params["boundary"]
	if !ok || b == "" {
		return "", protoerr.Payload("multipart message missing boundary parameter", []byte(contentType))
	}
	return b, nil
}

// ReadMultipart reads every part of a multipart body delimited by
// boundary, applying each part's Content-Transfer-Encoding and
// Content-Encoding (spec §4.6.4).
func ReadMultipart(b *ReadBuffer, boundary string) ([]MultipartPart, error) {
	delim := []byte("--" + boundary)

	if _, err := b.ReadUntil(delim); err != nil {
		return nil, err
	}
	var parts []MultipartPart
	for {
		rest, err := b.ReadExactly(2)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(rest, []byte("--")) {
			if _, err := b.ReadUntilCRLF(); err != nil {
				return nil, err
			}
			return parts, nil
		}
		if !bytes.Equal(rest, []byte("\r\n")) {
			return nil, protoerr.Payload("malformed multipart boundary terminator", rest)
		}

		headers, err := ParseHeaders(b)
		if err != nil {
			return nil, err
		}

		var raw []byte
		if cl := headers.Get("Content-Length"); cl != "" {
			n, convErr := strconv.Atoi(cl)
			if convErr != nil || n < 0 {
				return nil, protoerr.Payload("invalid part Content-Length", []byte(cl))
			}
			raw, err = b.ReadExactly(n)
			if err != nil {
				return nil, err
			}
			if _, err := b.ReadUntil(delim); err != nil {
				return nil, err
			}
		} else {
			raw, err = b.ReadUntil(append([]byte("\r\n"), delim...))
			if err != nil {
				return nil, err
			}
		}

		decoded, err := decodeTransferEncoding(headers.Get("Content-Transfer-Encoding"), raw)
		if err != nil {
			return nil, err
		}
		if enc := headers.Get("Content-Encoding"); enc != "" {
			decoded, err = decodeContentEncoding(enc, decoded)
			if err != nil {
				return nil, err
			}
		}
		parts = append(parts, MultipartPart{Headers: headers, Body: decoded})
	}
}

func decodeTransferEncoding(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "binary", "7bit", "8bit":
		return raw, nil
	case "base64":
		out := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
		n, err := base64.StdEncoding.Decode(out, bytes.TrimSpace(raw))
		if err != nil {
			return nil, protoerr.Payload("invalid base64 part body", raw)
		}
		return out[:n], nil
	case "quoted-printable":
		out, err := ioReadAllQP(raw)
		if err != nil {
			return nil, protoerr.Payload("invalid quoted-printable part body", raw)
		}
		return out, nil
	default:
		return nil, protoerr.Payload("unsupported content-transfer-encoding: "+encoding, raw)
	}
}

func ioReadAllQP(raw []byte) ([]byte, error) {
	r := quotedprintable.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out.Bytes(), nil
			}
			return nil, err
		}
	}
}
