// Package toolsafety validates executable values passed to tools that
// shell out, rejecting shell metacharacters, quote characters, NUL bytes,
// CR/LF line breaks, and option injection before a command ever reaches
// os/exec.
package toolsafety

import (
	"regexp"
	"strings"
)

var (
	shellMetachars = regexp.MustCompile("[;&|`$<>]")
	controlChars   = regexp.MustCompile(`[\r\n]`)
	quoteChars     = regexp.MustCompile(`["']`)
	bareNamePattern = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
	windowsDrive   = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

func looksLikePath(value string) bool {
	if value == "" {
		return false
	}
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}
	if strings.ContainsAny(value, "/\\") {
		return true
	}
	return windowsDrive.MatchString(value)
}

// IsSafeCommand reports whether value is safe to pass as the executable
// name or path of a shelled-out command: no NUL byte, no CR or LF, no
// shell metacharacters, no quote characters, and no leading-dash option
// injection on bare names.
func IsSafeCommand(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	if strings.ContainsRune(trimmed, 0) {
		return false
	}
	if controlChars.MatchString(trimmed) || shellMetachars.MatchString(trimmed) || quoteChars.MatchString(trimmed) {
		return false
	}
	if looksLikePath(trimmed) {
		return true
	}
	if strings.HasPrefix(trimmed, "-") {
		return false
	}
	return bareNamePattern.MatchString(trimmed)
}
