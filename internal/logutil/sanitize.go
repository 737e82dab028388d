// Package logutil holds small helpers for writing untrusted input to logs.
package logutil

import "strings"

// SanitizeForLog strips control characters from a client-supplied string
// so it cannot inject fake log lines or terminal escape sequences. Host
// names and usernames arrive straight off the wire and go into log lines
// verbatim otherwise.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case r < 32:
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
