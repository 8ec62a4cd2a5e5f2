// Package logutil guards log lines that quote client-supplied strings.
package logutil

import "strings"

// SanitizeForLog flattens control characters to spaces so a crafted terminal
// ID, target string or session ref cannot forge extra log lines.
func SanitizeForLog(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return ' '
		}
		return r
	}, s)
}

// Truncate caps s for log lines; client strings have no useful length bound.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
