package client

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// BasicAuthorization holds resolved HTTP Basic credentials (spec §3
// "ClientRequest.auth").
type BasicAuthorization struct {
	User     string
	Password string
}

// Header renders "Basic <base64(user:password)>" for an Authorization
// header.
func (a BasicAuthorization) Header() string {
	raw := a.User + ":" + a.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// ParseBasicAuthorization decodes an incoming Authorization header value
// of the form "Basic <base64>", the inverse of Header.
func ParseBasicAuthorization(header string) (BasicAuthorization, error) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return BasicAuthorization{}, fmt.Errorf("auth: not a Basic authorization header")
	}
	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return BasicAuthorization{}, fmt.Errorf("auth: invalid base64: %w", err)
	}
	user, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return BasicAuthorization{}, fmt.Errorf("auth: missing ':' separator")
	}
	return BasicAuthorization{User: user, Password: password}, nil
}
