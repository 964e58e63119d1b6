// Package logutil cleans client-controlled strings (SSH usernames, package
// names, remote output) before they reach the log.
package logutil

import "strings"

const maxLogLen = 256

// SanitizeForLog replaces line breaks and tabs with spaces, drops other
// control characters and truncates the result, so a client cannot forge
// log entries or flood the log.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(min(len(s), maxLogLen))
	n := 0
	for _, r := range s {
		if n == maxLogLen {
			b.WriteString("...")
			break
		}
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 127:
			continue
		default:
			b.WriteRune(r)
		}
		n++
	}
	return b.String()
}
