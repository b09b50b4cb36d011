package weburl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/loopwire/weburl"
)

func TestParseBasicHTTPURL(t *testing.T) {
	u, err := weburl.Parse("https://example.com:8443/path?a=1&b=2#frag")
	require.NoError(t, err)

	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "example.com", u.Host)
	assert.Equal(t, 8443, u.Port)
	assert.Equal(t, "/path", u.Path)
	assert.Equal(t, "frag", u.Fragment)
	assert.Equal(t, "1", u.Query.Get("a"))
	assert.True(t, u.IsSSL())
}

func TestParseNormalizesIDNHost(t *testing.T) {
	u, err := weburl.Parse("http://müller.example/")
	require.NoError(t, err)
	assert.Contains(t, u.Host, "xn--")
}

func TestEffectivePortFallsBackToSchemeDefault(t *testing.T) {
	u, err := weburl.Parse("http://example.com/")
	require.NoError(t, err)
	assert.Equal(t, 80, u.EffectivePort())

	wss, err := weburl.Parse("wss://example.com/")
	require.NoError(t, err)
	assert.Equal(t, 443, wss.EffectivePort())
}

func TestResolveReferenceAgainstBase(t *testing.T) {
	base, err := weburl.Parse("https://example.com/a/b?x=1")
	require.NoError(t, err)

	resolved, err := base.ResolveReference("/c")
	require.NoError(t, err)
	assert.Equal(t, "/c", resolved.Path)
	assert.Equal(t, "example.com", resolved.Host)
}

func TestHostPortUsesEffectivePort(t *testing.T) {
	u, err := weburl.Parse("ws://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "example.com:80", u.HostPort())
}
