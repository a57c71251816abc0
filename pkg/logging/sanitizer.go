package logging

import (
	"regexp"
	"unicode/utf8"
)

const (
	// MaxUserAgentLogLength caps how much of a user-agent survives redaction context.
	MaxUserAgentLogLength = 40
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// IPv4 addresses anywhere in a message.
	ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// IPv6 addresses (full or compressed form with at least two groups).
	ipv6Pattern = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{0,4}\b`)

	// Pattern to match potential passwords in connection strings.
	// Matches: password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Connection string credentials (user:pass@host format).
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// SanitizeIP blanks out an IP address entirely. Raw addresses must never
// reach a log line; only the pseudonymized hash may be logged.
func SanitizeIP(ip string) string {
	if ip == "" {
		return ""
	}
	return RedactedText
}

// SanitizeUserAgent truncates a user-agent string to a non-identifying
// prefix. Full UA strings are fingerprinting material and are treated the
// same as IPs.
func SanitizeUserAgent(ua string) string {
	if ua == "" {
		return ""
	}
	if len(ua) > MaxUserAgentLogLength {
		// Back off to a rune boundary so truncation never emits a split
		// multi-byte character into a log field.
		cut := MaxUserAgentLogLength
		for cut > 0 && !utf8.RuneStart(ua[cut]) {
			cut--
		}
		return ua[:cut] + "..."
	}
	return ua
}

// SanitizeMessage removes IP addresses and credential material from a
// free-form message before it is logged.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}
	sanitized := ipv4Pattern.ReplaceAllString(msg, RedactedText)
	sanitized = ipv6Pattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeConnectionString removes sensitive data from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}
