package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBufferReadExactlyAcrossChunks(t *testing.T) {
	rb := NewReadBuffer(nil)
	rb.Feed([]byte("ab"))
	rb.Feed([]byte("cde"))

	got, err := rb.ReadExactly(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), got)

	got, err = rb.ReadExactly(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("e"), got)
}

func TestReadBufferReadExactlyBlocksUntilFed(t *testing.T) {
	rb := NewReadBuffer(nil)
	done := make(chan []byte)
	go func() {
		got, err := rb.ReadExactly(5)
		assert.NoError(t, err)
		done <- got
	}()

	rb.Feed([]byte("hel"))
	rb.Feed([]byte("lo"))
	assert.Equal(t, []byte("hello"), <-done)
}

func TestReadBufferReadExactlyEOFPartial(t *testing.T) {
	rb := NewReadBuffer(nil)
	rb.Feed([]byte("ab"))
	rb.FeedEOF()

	_, err := rb.ReadExactly(5)
	assert.Error(t, err)
}

func TestReadBufferReadUntilCRLF(t *testing.T) {
	rb := NewReadBuffer(nil)
	rb.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))

	line, err := rb.ReadUntilCRLF()
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.1", string(line))

	line, err = rb.ReadUntilCRLF()
	require.NoError(t, err)
	assert.Equal(t, "Host: x", string(line))
}

func TestReadBufferSetPayloadReaderPanicsOnSecondOwner(t *testing.T) {
	rb := NewReadBuffer(nil)
	rb.SetPayloadReader(func(b *ReadBuffer) (any, error) {
		return nil, b.waitForever()
	})

	assert.Panics(t, func() {
		rb.SetPayloadReader(func(b *ReadBuffer) (any, error) { return nil, nil })
	})
}

// waitForever blocks the reader goroutine so hasOwner stays true for the
// duration of TestReadBufferSetPayloadReaderPanicsOnSecondOwner.
func (b *ReadBuffer) waitForever() error {
	<-make(chan struct{})
	return nil
}

func TestReadBufferReadUntilEOF(t *testing.T) {
	rb := NewReadBuffer(nil)
	rb.Feed([]byte("remaining"))
	rb.FeedEOF()

	got, err := rb.ReadUntilEOF()
	require.NoError(t, err)
	assert.Equal(t, []byte("remaining"), got)
}
