package weburl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loopwire/loopwire/weburl"
)

func TestHeadersCaseInsensitiveLookup(t *testing.T) {
	h := weburl.NewHeaders()
	h.Add("Content-Type", "text/plain")

	assert.Equal(t, "text/plain", h.Get("content-type"))
	assert.True(t, h.Has("CONTENT-TYPE"))
}

func TestHeadersPreservesFirstSeenCasing(t *testing.T) {
	h := weburl.NewHeaders()
	h.Add("X-Trace-Id", "1")
	h.Add("x-trace-id", "2")

	assert.Equal(t, []string{"X-Trace-Id"}, h.Keys())
	assert.Equal(t, []string{"1", "2"}, h.GetAll("X-TRACE-ID"))
}

func TestHeadersSetReplacesAllValues(t *testing.T) {
	h := weburl.NewHeaders()
	h.Add("Accept", "text/html")
	h.Add("Accept", "application/json")
	h.Set("Accept", "*/*")

	assert.Equal(t, []string{"*/*"}, h.GetAll("Accept"))
}

func TestHeadersSetDefaultKeepsExisting(t *testing.T) {
	h := weburl.NewHeaders()
	h.Set("Host", "example.com")

	got := h.SetDefault("Host", "other.com")
	assert.Equal(t, "example.com", got)
	assert.Equal(t, "example.com", h.Get("Host"))
}

func TestHeadersPopAllRemovesKey(t *testing.T) {
	h := weburl.NewHeaders()
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")

	vs := h.PopAll("set-cookie")
	assert.Equal(t, []string{"a=1", "b=2"}, vs)
	assert.False(t, h.Has("Set-Cookie"))
}

func TestHeadersEachPreservesOrder(t *testing.T) {
	h := weburl.NewHeaders()
	h.Add("A", "1")
	h.Add("B", "2")
	h.Add("A", "3")

	var pairs [][2]string
	h.Each(func(key, value string) { pairs = append(pairs, [2]string{key, value}) })

	assert.Equal(t, [][2]string{{"A", "1"}, {"A", "3"}, {"B", "2"}}, pairs)
}

func TestHeadersExtendAppendsInOrder(t *testing.T) {
	a := weburl.NewHeaders()
	a.Add("X-A", "1")

	b := weburl.NewHeaders()
	b.Add("X-B", "2")

	a.Extend(b)
	assert.Equal(t, []string{"X-A", "X-B"}, a.Keys())
}
