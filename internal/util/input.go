package util

import (
	"strings"
	"unicode"
)

// CleanSubject trims whitespace and strips control characters from a
// submitted subject line. The result goes into a private-message title, so
// newlines are not allowed either.
func CleanSubject(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// CleanMessage strips control characters from a message body but keeps
// newlines and tabs; the body is forwarded verbatim otherwise.
func CleanMessage(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
