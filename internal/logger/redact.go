package logger

import "regexp"

type redactor struct {
	pattern     *regexp.Regexp
	replacement string
}

// Log files outlive the process, so credentials never reach them.
var sensitiveRedactors = []redactor{
	{regexp.MustCompile(`(?i)\b(bearer)\s+([^\s]+)`), "$1 [redacted]"},
	{regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[a-zA-Z0-9]{20,}\b`), "[redacted]"},
	{regexp.MustCompile(`\bgithub_pat_[a-zA-Z0-9_]{20,}\b`), "[redacted]"},
	{regexp.MustCompile(`(?i)\b(api[_-]?key)\s*[:=]\s*([^\s]+)`), "$1=[redacted]"},
	{regexp.MustCompile(`(?i)([?&](?:api[_-]?key|token|access[_-]?token)=)([^&\s]+)`), "$1[redacted]"},
}

// Redact masks bearer credentials, GitHub tokens and token query parameters.
func Redact(message string) string {
	for _, r := range sensitiveRedactors {
		message = r.pattern.ReplaceAllString(message, r.replacement)
	}
	return message
}
