package protocol

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/loopwire/loopwire/weburl"
)

// writeFunc abstracts the sink a writer flushes to — a
// *internal/loop.Transport in production, a bytes.Buffer in tests.
type writeFunc func([]byte)

// WriteHTTPRequest serializes method/path/headers/version as an exact
// wire-format request line + headers block, preserving header
// insertion order (spec §4.6.5).
func WriteHTTPRequest(w writeFunc, method, path string, version Version, headers *weburl.Headers) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", method, path, version)
	writeHeaderBlock(&buf, headers)
	w(buf.Bytes())
}

// WriteHTTPResponse serializes status/headers/version as an exact
// wire-format status line + headers block (spec §4.6.5).
func WriteHTTPResponse(w writeFunc, status int, reason string, version Version, headers *weburl.Headers) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d %s\r\n", version, status, reason)
	writeHeaderBlock(&buf, headers)
	w(buf.Bytes())
}

func writeHeaderBlock(buf *bytes.Buffer, headers *weburl.Headers) {
	headers.Each(func(key, value string) {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	})
	buf.WriteString("\r\n")
}

// bigChunkLimit is the accumulated-size threshold after which
// HTTPStreamWriter implicitly awaits drain (spec §6 WRITE_CHUNK_LIMIT /
// BIG_CHUNK_LIMIT, §5 "implicitly drains every 64 KiB").
const bigChunkLimit = 65536

// drainWaiter is the minimal surface HTTPStreamWriter needs from the
// transport it writes through.
type drainWaiter interface {
	Write(p []byte)
	DrainWaiter() <-chan struct{}
}

// HTTPStreamWriter writes an outgoing HTTP body, optionally chunk-wrapping
// and/or compressing it (spec §4.6.5).
type HTTPStreamWriter struct {
	transport     drainWaiter
	chunked       bool
	compressor    io.WriteCloser
	compressedBuf *bytes.Buffer
	sinceDrain    int
}

// NewHTTPStreamWriter returns a writer over transport. encoding selects
// a compressor ("gzip", "deflate", "br", or "" for none); chunked
// selects RFC 7230 chunk-wrapping.
func NewHTTPStreamWriter(transport drainWaiter, chunked bool, encoding string) (*HTTPStreamWriter, error) {
	w := &HTTPStreamWriter{transport: transport, chunked: chunked}
	if encoding == "" {
		return w, nil
	}
	w.compressedBuf = &bytes.Buffer{}
	switch encoding {
	case "gzip":
		w.compressor = gzip.NewWriter(w.compressedBuf)
	case "deflate":
		fw, err := flate.NewWriter(w.compressedBuf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		w.compressor = fw
	case "br":
		w.compressor = brotli.NewWriter(w.compressedBuf)
	default:
		return nil, fmt.Errorf("protocol: unsupported outgoing content-encoding %q", encoding)
	}
	return w, nil
}

// Write queues chunk for sending: compresses it first (if configured),
// then chunk-wraps it (if configured), matching the write-side pipeline
// order in spec §4.6.5.
func (w *HTTPStreamWriter) Write(chunk []byte) error {
	if w.compressor != nil {
		if _, err := w.compressor.Write(chunk); err != nil {
			return err
		}
		w.compressor.(interface{ Flush() error }).Flush()
		chunk = w.compressedBuf.Bytes()
		w.compressedBuf.Reset()
		if len(chunk) == 0 {
			return nil
		}
	}
	w.emit(chunk)
	return nil
}

func (w *HTTPStreamWriter) emit(chunk []byte) {
	if w.chunked {
		var head bytes.Buffer
		fmt.Fprintf(&head, "%x\r\n", len(chunk))
		w.transport.Write(head.Bytes())
		w.transport.Write(chunk)
		w.transport.Write([]byte("\r\n"))
	} else {
		w.transport.Write(chunk)
	}
	w.sinceDrain += len(chunk)
}

// DrainIfNeeded returns the drain waiter channel once the accumulated
// written size crosses bigChunkLimit, else a nil channel (select on nil
// blocks forever, so callers can `case <-w.DrainIfNeeded():` safely).
func (w *HTTPStreamWriter) DrainIfNeeded() <-chan struct{} {
	if w.sinceDrain < bigChunkLimit {
		return nil
	}
	w.sinceDrain = 0
	return w.transport.DrainWaiter()
}

// WriteEOF flushes any pending compressor output and, if chunked,
// writes the terminating zero-size chunk (spec §4.6.5).
func (w *HTTPStreamWriter) WriteEOF() error {
	if w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return err
		}
		if tail := w.compressedBuf.Bytes(); len(tail) > 0 {
			w.emit(tail)
			w.compressedBuf.Reset()
		}
	}
	if w.chunked {
		w.transport.Write([]byte("0\r\n\r\n"))
	}
	return nil
}
