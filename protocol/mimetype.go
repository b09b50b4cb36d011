package protocol

import (
	"strings"

	"github.com/loopwire/loopwire/protoerr"
)

// ParseMimeType splits "type/subtype+suffix; param=value; …", honoring
// quoted-string parameter values, and expands a bare "*" to "*/*"
// (mirrors scarletio's mime_type.py, spec.md §4.12).
func ParseMimeType(raw string) (mimeType string, params map[string]string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "*" {
		raw = "*/*"
	}
	if raw == "" {
		return "", map[string]string{}, nil
	}

	semi := indexUnquoted(raw, ';')
	var typePart string
	var rest string
	if semi < 0 {
		typePart = raw
	} else {
		typePart = raw[:semi]
		rest = raw[semi+1:]
	}
	typePart = strings.TrimSpace(typePart)
	if !strings.Contains(typePart, "/") {
		return "", nil, protoerr.Payload("invalid mime type, missing '/'", []byte(raw))
	}

	params = make(map[string]string)
	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		semi := indexUnquoted(rest, ';')
		var seg string
		if semi < 0 {
			seg = rest
			rest = ""
		} else {
			seg = rest[:semi]
			rest = rest[semi+1:]
		}
		eq := indexUnquoted(seg, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(seg[:eq]))
		value := strings.TrimSpace(seg[eq+1:])
		value = unquoteParamValue(value)
		params[key] = value
	}
	return strings.ToLower(typePart), params, nil
}

// indexUnquoted finds the first unescaped, unquoted occurrence of sep
// in s, skipping over "..." quoted-string regions.
func indexUnquoted(s string, sep byte) int {
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case '\\':
			if inQuotes {
				i++
			}
		default:
			if s[i] == sep && !inQuotes {
				return i
			}
		}
	}
	return -1
}

func unquoteParamValue(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		inner := v[1 : len(v)-1]
		var b strings.Builder
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\\' && i+1 < len(inner) {
				i++
			}
			b.WriteByte(inner[i])
		}
		return b.String()
	}
	return v
}
