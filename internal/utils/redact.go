package utils

import "regexp"

// Built-in redaction rules applied per log line. Order matters: broader
// token shapes run after the specific ones so placeholders are not re-matched.
var redactionRules = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	// Anchored on digits at both ends so a trailing separator stays in the line.
	{regexp.MustCompile(`\b\d(?:[ -]?\d){12,15}\b`), "[CARD]"},
	{regexp.MustCompile(`(?i)\b(bearer|token|apikey|api_key|password|secret)[=:\s]+\S+`), "$1=[REDACTED]"},
}

// RedactLine masks common PII and credential shapes in one log line. It is
// the default redaction policy for applications with PII filtering enabled.
func RedactLine(line string) (string, error) {
	for _, rule := range redactionRules {
		line = rule.pattern.ReplaceAllString(line, rule.replacement)
	}
	return line, nil
}
