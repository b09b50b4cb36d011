package weburl

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// URL is the parsed form used throughout the client/connector/handshake
// code: scheme, userinfo, host, port, path, a multi-value query, and
// fragment, with a punycode-safe raw host form (spec §4.13).
type URL struct {
	Scheme   string
	User     string
	Password string
	HasAuth  bool
	Host     string // normalized, punycode-safe (idna), lowercased
	RawHost  string // as supplied, before idna normalization
	Port     int    // 0 means "use scheme default"
	Path     string
	Query    *Query
	Fragment string
}

// Query is an ordered multi-value map for the ?a=1&a=2 component.
type Query struct {
	keys []string
	vals map[string][]string
}

// NewQuery returns an empty query multi-map.
func NewQuery() *Query {
	return &Query{vals: make(map[string][]string)}
}

func (q *Query) Add(key, value string) {
	if _, ok := q.vals[key]; !ok {
		q.keys = append(q.keys, key)
	}
	q.vals[key] = append(q.vals[key], value)
}

func (q *Query) Get(key string) string {
	vs := q.vals[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func (q *Query) GetAll(key string) []string { return q.vals[key] }

func (q *Query) Encode() string {
	var b strings.Builder
	first := true
	for _, k := range q.keys {
		for _, v := range q.vals[k] {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Parse parses raw into a URL, normalizing the host through idna so
// internationalized domain names serialize to their ASCII/punycode form
// (spec §4.13 "raw_host preserves punycode-safe form").
func Parse(raw string) (*URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("weburl: parse %q: %w", raw, err)
	}

	out := &URL{
		Scheme:   strings.ToLower(u.Scheme),
		RawHost:  u.Hostname(),
		Path:     u.Path,
		Fragment: u.Fragment,
		Query:    NewQuery(),
	}
	if u.User != nil {
		out.HasAuth = true
		out.User = u.User.Username()
		out.Password, _ = u.User.Password()
	}
	if out.RawHost != "" {
		ascii, err := idna.Lookup.ToASCII(out.RawHost)
		if err != nil {
			ascii = strings.ToLower(out.RawHost)
		}
		out.Host = ascii
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("weburl: invalid port %q: %w", p, err)
		}
		out.Port = port
	}
	for k, vs := range u.Query() {
		for _, v := range vs {
			out.Query.Add(k, v)
		}
	}
	sort.Strings(out.Query.keys)
	return out, nil
}

// DefaultPort returns the scheme's conventional port, or 0 if unknown.
func (u *URL) DefaultPort() int {
	switch u.Scheme {
	case "http", "ws":
		return 80
	case "https", "wss":
		return 443
	default:
		return 0
	}
}

// EffectivePort returns Port if set, else DefaultPort().
func (u *URL) EffectivePort() int {
	if u.Port != 0 {
		return u.Port
	}
	return u.DefaultPort()
}

// IsSSL reports whether the scheme implies a TLS connection.
func (u *URL) IsSSL() bool {
	return u.Scheme == "https" || u.Scheme == "wss"
}

// String serializes u back to wire form. Round-tripping an
// already-normalized URL through Parse/String is idempotent (spec §8.10).
func (u *URL) String() string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	if u.HasAuth {
		b.WriteString(url.User(u.User).String())
		if u.Password != "" {
			b.WriteByte(':')
			b.WriteString(url.QueryEscape(u.Password))
		}
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	if u.Port != 0 && u.Port != u.DefaultPort() {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.Port))
	}
	if u.Path == "" {
		b.WriteByte('/')
	} else {
		b.WriteString(u.Path)
	}
	if q := u.Query.Encode(); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}

// ResolveReference resolves ref (typically a redirect Location header)
// against u, the way net/url.URL.ResolveReference does, returning a new
// normalized URL.
func (u *URL) ResolveReference(ref string) (*URL, error) {
	base, err := url.Parse(u.String())
	if err != nil {
		return nil, err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("weburl: invalid reference %q: %w", ref, err)
	}
	return Parse(base.ResolveReference(r).String())
}

// HostPort returns "host:port" using the effective port, suitable for
// net.Dial and connection-key host.
func (u *URL) HostPort() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.EffectivePort()))
}
