package logger

import (
	"log/slog"
	"strings"
)

// jwtPrefix is the base64url encoding of `{"` that starts every JWT header.
const jwtPrefix = "eyJ"

// Sensitive key patterns that should be redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"refresh",
	"access",
	"passphrase",
	"credential",
	"authorization",
	"bearer",
	"api_key",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive checks if an attribute contains sensitive data
// and redacts it if necessary.
func redactSensitive(a slog.Attr) slog.Attr {
	// Value shape wins over key name: a JWT keeps a hint of its head and tail.
	if a.Value.Kind() == slog.KindString {
		strVal := a.Value.String()
		if IsSensitiveValue(strVal) {
			return slog.String(a.Key, maskValue(strVal))
		}

		if strVal != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	return a
}

// maskValue partially masks a JWT.
// Format: eyJ + next 3 chars + "..." + last 3 chars
func maskValue(value string) string {
	body := value[len(jwtPrefix):]
	if len(body) <= 6 {
		return jwtPrefix + "***"
	}
	return jwtPrefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString manually redacts a string value.
// Use this when you need to redact a value before logging.
func RedactString(value string) string {
	if IsSensitiveValue(value) {
		return maskValue(value)
	}
	return value
}

// IsSensitiveKey checks if a key name suggests sensitive content.
// Fingerprint keys (refresh_fingerprint) are never sensitive.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	if strings.HasSuffix(keyLower, "fingerprint") {
		return false
	}
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// IsSensitiveValue reports whether a value looks like a JWT
// (three dot-separated segments with a JSON header).
func IsSensitiveValue(value string) bool {
	return strings.HasPrefix(value, jwtPrefix) && strings.Count(value, ".") == 2
}
