// Package formdata builds application/x-www-form-urlencoded and
// multipart/form-data request bodies (spec §4.12).
package formdata

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var tokenRP = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// usASCIIEscapable matches every byte that must be backslash-escaped
// inside a quoted-string: anything outside printable 7-bit ASCII minus
// backslash and double-quote (mirrors scarletio's
// USASCII_ESCAPABLE_RP `[^\041\043-\133\135-\176]`).
var usASCIIEscapable = regexp.MustCompile("[^\x21\x23-\x5b\x5d-\x7e]")

func isToken(s string) bool {
	return s != "" && tokenRP.MatchString(s)
}

func isUSASCIIPrintable(s string) bool {
	for _, r := range s {
		if r == '\t' {
			continue
		}
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

func escapeQuoted(s string) string {
	return usASCIIEscapable.ReplaceAllStringFunc(s, func(m string) string { return "\\" + m })
}

// BuildContentDispositionHeader renders a Content-Disposition header
// value for dispositionType ("form-data", "attachment", "inline") with
// the given parameters. With quoteFields, non-ASCII values are RFC 5987
// encoded (`name*=utf-8''<percent-encoded>`) and plain 7-bit values are
// quoted with backslash escapes; without it, every value is quoted with
// only backslash and double quote escaped. The literal parameter key "file_name" is
// always emitted as "filename" (spec §4.12 "content-disposition
// synthesis").
func BuildContentDispositionHeader(dispositionType string, parameters map[string]string, quoteFields bool) (string, error) {
	if !isToken(dispositionType) {
		return "", fmt.Errorf("formdata: bad content-disposition type %q", dispositionType)
	}
	if len(parameters) == 0 {
		return dispositionType, nil
	}

	keys := make([]string, 0, len(parameters))
	for k := range parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(dispositionType)
	for _, key := range keys {
		value := parameters[key]
		renderedKey := key
		if renderedKey == "file_name" {
			renderedKey = "filename"
		}
		if !isToken(renderedKey) {
			return "", fmt.Errorf("formdata: bad content-disposition parameter %q", renderedKey)
		}

		var rendered string
		if quoteFields && isUSASCIIPrintable(value) {
			rendered = fmt.Sprintf(`"%s"`, escapeQuoted(value))
		} else if quoteFields {
			renderedKey += "*"
			rendered = "utf-8''" + strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
		} else {
			escaped := strings.ReplaceAll(value, `\`, `\\`)
			escaped = strings.ReplaceAll(escaped, `"`, `\"`)
			rendered = fmt.Sprintf(`"%s"`, escaped)
		}

		b.WriteString("; ")
		b.WriteString(renderedKey)
		b.WriteByte('=')
		b.WriteString(rendered)
	}
	return b.String(), nil
}
