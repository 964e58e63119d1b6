// Package sandbox builds the command that starts a project demo on the
// backend host and checks that the demo image is available there.
package sandbox

import "strings"

// Command returns the shell command the relay runs on the backend. Every
// argument is single quoted so user supplied values reach the container as
// literal strings.
func Command(image, username, pkg, author string) string {
	return strings.Join([]string{
		"docker", "run", "-it", "--rm", image,
		Quote(username), Quote(pkg), Quote(author),
	}, " ")
}

// Quote wraps s in single quotes for a POSIX shell. Embedded quotes become
// '\'' which closes the string, emits an escaped quote and reopens it.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
