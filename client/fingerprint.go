package client

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"hash"

	"github.com/loopwire/loopwire/internal/loop"
)

// SSLFingerprint pins a peer certificate's digest, selecting the hash
// function by digest length like scarletio's fingerprint.py. Unlike the
// original, a 16- or 20-byte (md5/sha1) fingerprint is accepted rather
// than rejected, with Weak set so callers can warn instead of refusing
// outright (SPEC_FULL.md §4 supplemented feature).
type SSLFingerprint struct {
	Digest []byte
	Weak   bool

	hashFunc func() hash.Hash
}

// NewSSLFingerprint selects a hash function from digest's length (16 =
// md5, 20 = sha1, 32 = sha256) and returns an error for any other
// length.
func NewSSLFingerprint(digest []byte) (*SSLFingerprint, error) {
	var hf func() hash.Hash
	weak := false
	switch len(digest) {
	case md5.Size:
		hf, weak = md5.New, true
	case sha1.Size:
		hf, weak = sha1.New, true
	case sha256.Size:
		hf = sha256.New
	default:
		return nil, fmt.Errorf("ssl fingerprint: unsupported digest length %d", len(digest))
	}
	return &SSLFingerprint{Digest: digest, Weak: weak, hashFunc: hf}, nil
}

// Check verifies tr's peer certificate against the pinned fingerprint.
// It is a no-op for plaintext connections (no TLS state to check).
func (f *SSLFingerprint) Check(tr *loop.Transport) error {
	raw := tr.ExtraInfo("socket")
	tlsConn, ok := raw.(*tls.Conn)
	if !ok {
		return nil
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("ssl fingerprint: no peer certificate presented")
	}
	h := f.hashFunc()
	h.Write(state.PeerCertificates[0].Raw)
	received := h.Sum(nil)
	if bytesEqual(received, f.Digest) {
		return nil
	}
	peer := tr.ExtraInfo("peername")
	return fmt.Errorf("ssl fingerprint: expected %x, received %x (peer %v)", f.Digest, received, peer)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
