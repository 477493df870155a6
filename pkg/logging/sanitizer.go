// Package logging builds the process logger and scrubs secrets from strings
// before they reach a log line or a user-visible error.
package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of SQL text written to logs.
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	// password=x, pwd=x, pass=x in ADO, libpq and URL query forms. ADO allows
	// spaces around '='.
	passwordRule = redaction{
		regexp.MustCompile(`(?i)\b(password|pwd|pass)\s*=\s*[^;&\s]+`),
		"${1}=" + RedactedText,
	}

	// user:pass@host in sqlserver://, postgres:// and http(s):// DSNs.
	userInfoRule = redaction{
		regexp.MustCompile(`://[^:/@\s]+:[^@\s]+@`),
		"://" + RedactedText + "@",
	}

	bearerRule = redaction{
		regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`),
		"Bearer " + RedactedText,
	}

	apiKeyRule = redaction{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey|access[_-]?token)=[A-Za-z0-9-_]{20,}`),
		"${1}=" + RedactedText,
	}

	connectionRules = []redaction{passwordRule, userInfoRule}
	errorRules      = []redaction{passwordRule, userInfoRule, bearerRule, apiKeyRule}
	queryRules      = []redaction{passwordRule, apiKeyRule}
)

func apply(s string, rules []redaction) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// SanitizeConnectionString removes credentials from a connection string.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return apply(connStr, connectionRules)
}

// SanitizeError renders err with credentials, bearer tokens and API keys
// removed. Driver errors often echo the DSN they failed on.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return apply(err.Error(), errorRules)
}

// SanitizeQuery truncates SQL text for logging and removes inline secrets.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	return apply(TruncateString(query, MaxQueryLogLength), queryRules)
}

// TruncateString truncates s to maxLen bytes and adds an ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
