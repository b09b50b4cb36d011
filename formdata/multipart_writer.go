package formdata

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"

	"github.com/loopwire/loopwire/weburl"
)

var validContentEncodings = map[string]bool{
	"": true, "identity": true, "gzip": true, "deflate": true, "br": true,
}

var validTransferEncodings = map[string]bool{
	"": true, "base64": true, "quoted-printable": true, "binary": true,
}

// Part is a single part of a multipart/form-data (or similar) body: its
// own header block plus a fully materialized body (spec §4.12
// "MultipartWriter composes multiple payload parts").
type Part struct {
	Headers *weburl.Headers
	Body    []byte
}

// NewPart returns a part with an empty header dictionary and body.
func NewPart(body []byte) *Part {
	return &Part{Headers: weburl.NewHeaders(), Body: body}
}

// SetContentDisposition sets the part's Content-Disposition header
// (spec §4.12 content-disposition synthesis).
func (p *Part) SetContentDisposition(dispositionType string, parameters map[string]string, quoteFields bool) error {
	header, err := BuildContentDispositionHeader(dispositionType, parameters, quoteFields)
	if err != nil {
		return err
	}
	p.Headers.Set("Content-Disposition", header)
	return nil
}

// MultipartWriter serializes a sequence of Parts under a shared boundary
// into a `multipart/<subtype>` body (spec §4.12).
type MultipartWriter struct {
	subtype  string
	boundary string
	parts    []*Part
}

// NewMultipartWriter returns a writer for subtype ("form-data", "mixed",
// …) with a random boundary, or boundary if non-empty.
func NewMultipartWriter(subtype, boundary string) *MultipartWriter {
	if boundary == "" {
		boundary = uuid.New().String()
	}
	return &MultipartWriter{subtype: subtype, boundary: boundary}
}

// Boundary returns the writer's boundary token.
func (w *MultipartWriter) Boundary() string { return w.boundary }

// ContentType renders the Content-Type header value for the assembled
// body, e.g. `multipart/form-data; boundary=...`.
func (w *MultipartWriter) ContentType() string {
	return fmt.Sprintf("multipart/%s; boundary=%s", w.subtype, w.boundary)
}

// AppendPayload validates part's Content-Encoding/Content-Transfer-Encoding,
// ensures a Content-Type is present (defaulting to
// application/octet-stream), and sets Content-Length when neither
// encoding alters the body size (spec §4.12 per-part validation).
func (w *MultipartWriter) AppendPayload(part *Part) error {
	encoding := part.Headers.Get("Content-Encoding")
	if !validContentEncodings[encoding] {
		return fmt.Errorf("formdata: unknown content-encoding %q", encoding)
	}
	transferEncoding := part.Headers.Get("Content-Transfer-Encoding")
	if !validTransferEncodings[transferEncoding] {
		return fmt.Errorf("formdata: unknown content-transfer-encoding %q", transferEncoding)
	}

	if !part.Headers.Has("Content-Type") {
		part.Headers.Set("Content-Type", "application/octet-stream")
	}

	sizePreserving := (encoding == "" || encoding == "identity") &&
		(transferEncoding == "" || transferEncoding == "binary")
	if sizePreserving {
		part.Headers.Set("Content-Length", fmt.Sprintf("%d", len(part.Body)))
	} else {
		part.Headers.PopAll("Content-Length")
	}

	w.parts = append(w.parts, part)
	return nil
}

// Bytes serializes every appended part under the shared boundary:
// `--boundary\r\n<headers>\r\n<body>\r\n` repeated, closed by
// `--boundary--\r\n` (spec §4.12).
func (w *MultipartWriter) Bytes() []byte {
	var buf bytes.Buffer
	for _, part := range w.parts {
		buf.WriteString("--")
		buf.WriteString(w.boundary)
		buf.WriteString("\r\n")
		part.Headers.Each(func(key, value string) {
			buf.WriteString(key)
			buf.WriteString(": ")
			buf.WriteString(value)
			buf.WriteString("\r\n")
		})
		buf.WriteString("\r\n")
		buf.Write(part.Body)
		buf.WriteString("\r\n")
	}
	buf.WriteString("--")
	buf.WriteString(w.boundary)
	buf.WriteString("--\r\n")
	return buf.Bytes()
}
