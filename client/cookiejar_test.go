package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/loopwire/weburl"
)

func TestParseSetCookieBasic(t *testing.T) {
	c, ok := parseSetCookie("session=abc123; Path=/app; Secure", "example.com")
	require.True(t, ok)
	assert.Equal(t, "session", c.Name)
	assert.Equal(t, "abc123", c.Value)
	assert.Equal(t, "/app", c.Path)
	assert.True(t, c.Secure)
	assert.True(t, c.HostOnly)
}

func TestParseSetCookieDomainAttributeClearsHostOnly(t *testing.T) {
	c, ok := parseSetCookie("a=1; Domain=.example.com", "www.example.com")
	require.True(t, ok)
	assert.Equal(t, "example.com", c.Domain)
	assert.False(t, c.HostOnly)
}

func TestParseSetCookieMaxAgeSetsExpiry(t *testing.T) {
	c, ok := parseSetCookie("a=1; Max-Age=60", "example.com")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(60*time.Second), c.Expires, 2*time.Second)
}

func TestParseSetCookieMalformedRejected(t *testing.T) {
	_, ok := parseSetCookie("no-equals-sign", "example.com")
	assert.False(t, ok)
}

func TestCookieJarRoundTripViaSetCookie(t *testing.T) {
	jar := NewCookieJar()
	c, ok := parseSetCookie("session=xyz; Path=/", "example.com")
	require.True(t, ok)
	jar.SetCookie(c)

	u, err := weburl.Parse("http://example.com/app")
	require.NoError(t, err)

	cookies := jar.CookiesFor(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "xyz", cookies[0].Value)
}

func TestCookieJarSecureCookieExcludedFromPlainHTTP(t *testing.T) {
	jar := NewCookieJar()
	c, ok := parseSetCookie("session=xyz; Secure", "example.com")
	require.True(t, ok)
	jar.SetCookie(c)

	u, err := weburl.Parse("http://example.com/")
	require.NoError(t, err)
	assert.Empty(t, jar.CookiesFor(u))

	su, err := weburl.Parse("https://example.com/")
	require.NoError(t, err)
	assert.Len(t, jar.CookiesFor(su), 1)
}

func TestCookieJarPurgeRemovesExpired(t *testing.T) {
	jar := NewCookieJar()
	jar.SetCookie(Cookie{Name: "a", Value: "1", Domain: "example.com", Path: "/", Expires: time.Now().Add(-time.Hour)})
	jar.SetCookie(Cookie{Name: "b", Value: "2", Domain: "example.com", Path: "/"})

	removed := jar.Purge()
	assert.Equal(t, 1, removed)
}
