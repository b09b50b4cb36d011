package client

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loopwire/loopwire/weburl"
)

// Cookie is a single stored cookie, matching the RFC 6265 attributes the
// jar needs for domain/path matching and expiry (SPEC_FULL.md §4
// supplemented feature, grounded on scarletio's connector-owned jar).
type Cookie struct {
	Name     string
	Value    string
	Domain   string // normalized, leading-dot stripped; HostOnly tracks the distinction
	HostOnly bool
	Path     string
	Expires  time.Time // zero value means session cookie (no expiry)
	Secure   bool
}

func (c Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && now.After(c.Expires)
}

// CookieJar stores cookies keyed by normalized domain, implementing the
// RFC 6265 §5.1.3/§5.1.4 domain and path matching rules used to decide
// which cookies attach to an outgoing request.
type CookieJar struct {
	mu      sync.Mutex
	byDomain map[string][]Cookie
}

// NewCookieJar returns an empty jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{byDomain: make(map[string][]Cookie)}
}

// SetCookie stores or updates a cookie, replacing any existing entry
// with the same (domain, path, name) per RFC 6265 §5.3 step 11.
func (j *CookieJar) SetCookie(c Cookie) {
	c.Domain = strings.ToLower(c.Domain)
	if c.Path == "" {
		c.Path = "/"
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entries := j.byDomain[c.Domain]
	for i, existing := range entries {
		if existing.Name == c.Name && existing.Path == c.Path {
			entries[i] = c
			j.byDomain[c.Domain] = entries
			return
		}
	}
	j.byDomain[c.Domain] = append(entries, c)
}

// CookiesFor returns every non-expired cookie that domain-matches and
// path-matches u, per RFC 6265 §5.4.
func (j *CookieJar) CookiesFor(u *weburl.URL) []Cookie {
	host := strings.ToLower(u.Host)
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Cookie
	for domain, entries := range j.byDomain {
		if !domainMatches(host, domain) {
			continue
		}
		for _, c := range entries {
			if c.HostOnly && domain != host {
				continue
			}
			if c.expired(now) {
				continue
			}
			if c.Secure && !u.IsSSL() {
				continue
			}
			if !pathMatches(u.Path, c.Path) {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// Purge removes every expired cookie, returning the count removed.
func (j *CookieJar) Purge() int {
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()

	removed := 0
	for domain, entries := range j.byDomain {
		kept := entries[:0]
		for _, c := range entries {
			if c.expired(now) {
				removed++
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(j.byDomain, domain)
		} else {
			j.byDomain[domain] = kept
		}
	}
	return removed
}

// parseSetCookie parses a single Set-Cookie header value into a Cookie
// scoped to requestHost, applying the Domain/Path/Expires/Max-Age/Secure
// attributes per RFC 6265 §5.2. Unparseable Max-Age/Expires values are
// ignored rather than rejecting the whole cookie.
func parseSetCookie(raw, requestHost string) (Cookie, bool) {
	parts := strings.Split(raw, ";")
	nameValue := strings.TrimSpace(parts[0])
	name, value, ok := strings.Cut(nameValue, "=")
	if !ok {
		return Cookie{}, false
	}

	c := Cookie{
		Name:     strings.TrimSpace(name),
		Value:    strings.TrimSpace(value),
		Domain:   strings.ToLower(requestHost),
		HostOnly: true,
		Path:     "/",
	}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		key, val, _ := strings.Cut(attr, "=")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "domain":
			d := strings.ToLower(strings.TrimSpace(val))
			d = strings.TrimPrefix(d, ".")
			if d != "" {
				c.Domain = d
				c.HostOnly = false
			}
		case "path":
			if p := strings.TrimSpace(val); p != "" {
				c.Path = p
			}
		case "secure":
			c.Secure = true
		case "max-age":
			if secs, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				c.Expires = time.Now().Add(time.Duration(secs) * time.Second)
			}
		case "expires":
			if t, err := time.Parse(time.RFC1123, strings.TrimSpace(val)); err == nil {
				c.Expires = t
			}
		}
	}
	return c, true
}

// domainMatches implements RFC 6265 §5.1.3: exact match, or host is a
// subdomain of a leading-dot-stripped cookie domain.
func domainMatches(host, cookieDomain string) bool {
	if host == cookieDomain {
		return true
	}
	if !strings.HasSuffix(host, "."+cookieDomain) {
		return false
	}
	// Reject IP-literal hosts matching as a suffix of themselves only.
	return net.ParseIP(host) == nil
}

// pathMatches implements RFC 6265 §5.1.4.
func pathMatches(requestPath, cookiePath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	if requestPath == cookiePath {
		return true
	}
	if strings.HasPrefix(requestPath, cookiePath) {
		if strings.HasSuffix(cookiePath, "/") {
			return true
		}
		return requestPath[len(cookiePath)] == '/'
	}
	return false
}
