// Package redact scrubs credentials and oversized remote payloads from text
// before it is shown to a user.
package redact

import (
	"regexp"
	"unicode/utf8"
)

// MaxLength is the longest message String returns.
const MaxLength = 300

type pattern struct {
	regex       *regexp.Regexp
	replacement string
}

var patterns = []pattern{
	// Provider API keys (OpenAI style sk-..., xAI xai-...).
	{regexp.MustCompile(`\b(?:sk|xai)-[A-Za-z0-9_\-]{8,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)((?:api[-_]?key|authorization|token|secret)["']?\s*[:=]\s*["']?)[^\s"',}]+`), "${1}[REDACTED]"},
}

// Secrets replaces API keys, bearer tokens and key=value credentials in s.
func Secrets(s string) string {
	for _, p := range patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// Truncate shortens s to at most n runes, marking the cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "... (truncated)"
}

// String scrubs secrets from s and truncates it to MaxLength.
func String(s string) string {
	return Truncate(Secrets(s), MaxLength)
}

// Error returns a user-safe rendering of err. A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
