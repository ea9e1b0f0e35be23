// Package redact masks secret-shaped substrings (bearer tokens, API keys,
// credentialed URLs) out of log lines and audit summaries before they are
// persisted or displayed.
package redact

import "regexp"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._-]{8,}`),
	regexp.MustCompile(`(?i)(api[_-]?key["'\s:=]+)[a-z0-9._-]{8,}`),
	regexp.MustCompile(`(?i)(token["'\s:=]+)[a-z0-9._-]{8,}`),
	regexp.MustCompile(`(?i)(password["'\s:=]+)\S{4,}`),
	regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`),
}

// Redact replaces recognized secret-shaped substrings in s with a fixed
// placeholder, preserving any matched label prefix (e.g. "Bearer ") so
// the redacted line stays readable.
func Redact(s string) string {
	for _, re := range patterns {
		s = re.ReplaceAllStringFunc(s, func(match string) string {
			sub := re.FindStringSubmatch(match)
			if len(sub) > 1 && sub[1] != "" {
				return sub[1] + "***REDACTED***"
			}
			return "***REDACTED***"
		})
	}
	return s
}

// Truncate shortens s to at most n runes, appending an ellipsis marker
// when truncation occurred. Used for tool_input_summary fields that must
// stay bounded in the audit log.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
