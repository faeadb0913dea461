package logging

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQueryLogLength is the maximum number of characters of a search query to log
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens sent to the embedding/LLM providers
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.]+`)

	// OpenAI/Anthropic style secret keys (sk-..., sk-ant-...)
	secretKeyPattern = regexp.MustCompile(`sk-[A-Za-z0-9\-_]{16,}`)

	// api_key=xxx style query or form parameters
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key|token)=[A-Za-z0-9\-_]{8,}`)

	// user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// query parameter names whose values are never logged
	sensitiveParams = []string{"key", "api_key", "apikey", "token", "access_token", "password", "secret", "signature"}
)

// SanitizeConnectionString removes credentials from a database connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeURL removes userinfo and sensitive query parameters from a source
// URL. Unparseable input falls back to pattern-based redaction.
func SanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return SanitizeConnectionString(raw)
	}

	if u.User != nil {
		u.User = url.User(RedactedText)
	}

	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			for _, sensitive := range sensitiveParams {
				if strings.EqualFold(name, sensitive) {
					q.Set(name, RedactedText)
				}
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// SanitizeError removes credentials and tokens from an error message.
// Provider SDK errors can echo request headers, so every error from a
// fetch, database or AI call goes through here before being logged.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = secretKeyPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeSearchQuery trims and truncates a screening query for logging.
func SanitizeSearchQuery(query string) string {
	return TruncateString(strings.TrimSpace(query), MaxQueryLogLength)
}

// TruncateString truncates s to maxLen characters and adds an ellipsis if needed.
// Multi-byte characters are never split.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
