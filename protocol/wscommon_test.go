package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/loopwire/protoerr"
)

func TestParseCloseFrameAbsentCode(t *testing.T) {
	code, reason, err := parseCloseFrame(nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), code)
	assert.Equal(t, "", reason)
}

func TestParseCloseFrameOneBytePayloadIsProtocolError(t *testing.T) {
	_, _, err := parseCloseFrame([]byte{0x03})
	require.Error(t, err)
	assert.True(t, protoerr.Is(err, protoerr.KindWebSocketProtocol))
}

func TestParseCloseFrameInvalidCodeIsProtocolError(t *testing.T) {
	// 999 is below the valid range (neither a defined code nor >=3000).
	_, _, err := parseCloseFrame([]byte{0x03, 0xE7})
	require.Error(t, err)
	assert.True(t, protoerr.Is(err, protoerr.KindWebSocketProtocol))
}

func TestParseCloseFrameValidCodeAndReason(t *testing.T) {
	code, reason, err := parseCloseFrame([]byte{0x03, 0xE8, 'b', 'y', 'e'})
	require.NoError(t, err)
	assert.Equal(t, uint16(1000), code)
	assert.Equal(t, "bye", reason)
}

func TestMapReceiveErrorMalformedCloseMapsTo1002(t *testing.T) {
	_, _, err := parseCloseFrame([]byte{0x01})
	require.Error(t, err)
	code, _ := mapReceiveError(err)
	assert.Equal(t, uint16(1002), code)
}
