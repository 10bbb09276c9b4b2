package logging

import (
	"bytes"
	"regexp"
	"strings"
)

// Sensitive field names that should be redacted.
var sensitiveFields = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"credential",
	"private_key",
	"privatekey",
	"escalation",
}

// Patterns for secrets that should be redacted.
var secretPatterns = []*regexp.Regexp{
	// PEM private key bodies
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),

	// Inline assignments that look like secrets
	regexp.MustCompile(`(?i)(passphrase|password|secret|token)[=:]["']?([a-zA-Z0-9+/=_-]{8,})["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// RedactBytes removes every exact occurrence of the given secrets from raw
// terminal output, then applies pattern redaction. The input is not modified.
func RedactBytes(output []byte, secrets ...[]byte) []byte {
	result := bytes.Clone(output)
	for _, secret := range secrets {
		if len(secret) == 0 {
			continue
		}
		result = bytes.ReplaceAll(result, secret, []byte(RedactedValue))
	}
	return []byte(Redact(string(result)))
}

// RedactMap redacts sensitive fields in a map.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(m))

	for k, v := range m {
		if IsSensitiveField(k) {
			result[k] = RedactedValue
		} else if nested, ok := v.(map[string]interface{}); ok {
			result[k] = RedactMap(nested)
		} else if str, ok := v.(string); ok {
			result[k] = Redact(str)
		} else {
			result[k] = v
		}
	}

	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}

// Tail returns at most n trailing bytes of output, for diagnostics.
func Tail(output []byte, n int) []byte {
	if n <= 0 || len(output) <= n {
		return output
	}
	return output[len(output)-n:]
}
