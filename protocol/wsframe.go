package protocol

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/loopwire/loopwire/protoerr"
)

// Opcode identifies a WebSocket frame's payload interpretation (spec §3,
// RFC 6455 §5.2).
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (op Opcode) valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

func (op Opcode) control() bool { return op >= OpClose }

// Frame is a single WebSocket protocol unit: the packed FIN/RSV/opcode
// byte plus payload (spec §3 WebSocketFrame, §4.7).
type Frame struct {
	Fin     bool
	Rsv1    bool
	Rsv2    bool
	Rsv3    bool
	Opcode  Opcode
	Payload []byte
}

// check validates the frame invariants from spec §4.7: RSV bits clear
// unless an extension claims them (checked by the extension chain, not
// here), control frames FIN=1 and payload ≤ 125 bytes, opcode in the
// defined set (spec §8.4).
func (f *Frame) check() error {
	if !f.Opcode.valid() {
		return protoerr.WebSocketProtocol("invalid opcode")
	}
	if f.Opcode.control() {
		if !f.Fin {
			return protoerr.WebSocketProtocol("control frame must not be fragmented")
		}
		if len(f.Payload) > 125 {
			return protoerr.WebSocketProtocol("control frame payload exceeds 125 bytes")
		}
	}
	return nil
}

// ApplyMask XORs data with the 4-byte mask cyclically, returning a new
// buffer; applying it twice with the same key is the identity (spec
// §4.7, §8.3).
func ApplyMask(mask [4]byte, data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ mask[i%4]
	}
	return out
}

func randomMaskKey() [4]byte {
	var key [4]byte
	_, _ = rand.Read(key[:])
	return key
}

// WriteFrame serializes f to wire form. maskWrites selects client mode
// (every frame masked with a fresh random key) vs. server mode (never
// masked) — mixing the two is the RFC 6455 masking-direction violation
// checked on read, not here (spec §4.7).
func WriteFrame(w writeFunc, f *Frame, maskWrites bool) error {
	if err := f.check(); err != nil {
		return err
	}

	var head [14]byte
	n := 2
	head[0] = byte(f.Opcode) & 0x0F
	if f.Fin {
		head[0] |= 0x80
	}
	if f.Rsv1 {
		head[0] |= 0x40
	}
	if f.Rsv2 {
		head[0] |= 0x20
	}
	if f.Rsv3 {
		head[0] |= 0x10
	}

	plen := len(f.Payload)
	switch {
	case plen < 126:
		head[1] = byte(plen)
	case plen <= 0xFFFF:
		head[1] = 126
		binary.BigEndian.PutUint16(head[2:4], uint16(plen))
		n += 2
	default:
		head[1] = 127
		binary.BigEndian.PutUint64(head[2:10], uint64(plen))
		n += 8
	}

	payload := f.Payload
	if maskWrites {
		head[1] |= 0x80
		key := randomMaskKey()
		copy(head[n:n+4], key[:])
		n += 4
		payload = ApplyMask(key, payload)
	}

	w(head[:n])
	if len(payload) > 0 {
		w(payload)
	}
	return nil
}

// ReadFrame parses one frame from b. expectMasked selects which side is
// reading: a server expects every client frame masked, a client expects
// every server frame unmasked; the opposite is a protocol violation
// (spec §4.7, §8.15). maxSize bounds the payload length before it is
// read (spec §4.7 "Payload length > configured max_size").
func ReadFrame(b *ReadBuffer, expectMasked bool, maxSize int64) (*Frame, error) {
	head, err := b.ReadExactly(2)
	if err != nil {
		return nil, err
	}
	fin := head[0]&0x80 != 0
	rsv1 := head[0]&0x40 != 0
	rsv2 := head[0]&0x20 != 0
	rsv3 := head[0]&0x10 != 0
	opcode := Opcode(head[0] & 0x0F)

	masked := head[1]&0x80 != 0
	if masked != expectMasked {
		return nil, protoerr.WebSocketProtocol("incorrect masking")
	}

	length := int64(head[1] & 0x7F)
	switch length {
	case 126:
		ext, err := b.ReadExactly(2)
		if err != nil {
			return nil, err
		}
		length = int64(binary.BigEndian.Uint16(ext))
	case 127:
		ext, err := b.ReadExactly(8)
		if err != nil {
			return nil, err
		}
		length = int64(binary.BigEndian.Uint64(ext))
	}
	if maxSize > 0 && length > maxSize {
		return nil, protoerr.Payload("frame payload exceeds max_size", nil)
	}

	var key [4]byte
	if masked {
		maskBytes, err := b.ReadExactly(4)
		if err != nil {
			return nil, err
		}
		copy(key[:], maskBytes)
	}

	payload, err := b.ReadExactly(int(length))
	if err != nil {
		return nil, err
	}
	if masked {
		payload = ApplyMask(key, payload)
	}

	f := &Frame{Fin: fin, Rsv1: rsv1, Rsv2: rsv2, Rsv3: rsv3, Opcode: opcode, Payload: payload}
	if err := f.check(); err != nil {
		return nil, err
	}
	return f, nil
}
