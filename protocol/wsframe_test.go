package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectWrites(fn func(w writeFunc)) []byte {
	var out []byte
	fn(func(b []byte) { out = append(out, b...) })
	return out
}

func TestWriteReadFrameRoundTripUnmasked(t *testing.T) {
	wire := collectWrites(func(w writeFunc) {
		require.NoError(t, WriteFrame(w, &Frame{Fin: true, Opcode: OpText, Payload: []byte("hello")}, false))
	})

	rb := NewReadBuffer(nil)
	rb.Feed(wire)
	f, err := ReadFrame(rb, false, 0)
	require.NoError(t, err)
	assert.Equal(t, OpText, f.Opcode)
	assert.Equal(t, []byte("hello"), f.Payload)
	assert.True(t, f.Fin)
}

func TestWriteReadFrameRoundTripMasked(t *testing.T) {
	wire := collectWrites(func(w writeFunc) {
		require.NoError(t, WriteFrame(w, &Frame{Fin: true, Opcode: OpBinary, Payload: []byte("data")}, true))
	})

	rb := NewReadBuffer(nil)
	rb.Feed(wire)
	f, err := ReadFrame(rb, true, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), f.Payload)
}

func TestReadFrameRejectsWrongMaskingDirection(t *testing.T) {
	wire := collectWrites(func(w writeFunc) {
		require.NoError(t, WriteFrame(w, &Frame{Fin: true, Opcode: OpText, Payload: []byte("x")}, false))
	})

	rb := NewReadBuffer(nil)
	rb.Feed(wire)
	_, err := ReadFrame(rb, true, 0)
	assert.Error(t, err)
}

func TestWriteFrameRejectsFragmentedControlFrame(t *testing.T) {
	err := WriteFrame(func([]byte) {}, &Frame{Fin: false, Opcode: OpPing}, false)
	assert.Error(t, err)
}

func TestReadFrameRejectsPayloadOverMaxSize(t *testing.T) {
	wire := collectWrites(func(w writeFunc) {
		require.NoError(t, WriteFrame(w, &Frame{Fin: true, Opcode: OpBinary, Payload: make([]byte, 1000)}, false))
	})

	rb := NewReadBuffer(nil)
	rb.Feed(wire)
	_, err := ReadFrame(rb, false, 100)
	assert.Error(t, err)
}

func TestApplyMaskIsInvolution(t *testing.T) {
	key := [4]byte{1, 2, 3, 4}
	data := []byte("round trip me")
	masked := ApplyMask(key, data)
	assert.Equal(t, data, ApplyMask(key, masked))
}
