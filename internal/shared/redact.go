package shared

import (
	"regexp"
	"strings"
)

// Redacted replaces every secret Redact finds.
const Redacted = "[REDACTED]"

// A redaction rule replaces each match of re with repl, where repl may refer
// to capture groups that should survive (a key name, a URL scheme).
type redaction struct {
	re   *regexp.Regexp
	repl string
}

var redactions = []redaction{
	{regexp.MustCompile(`(?i)((?:api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|jwt[_-]?secret|password)\s*[:=]\s*"?)[A-Za-z0-9_\-./+=!@#$%^&*]{8,}"?`), "${1}" + Redacted},
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-./+=]{16,}`), "${1}" + Redacted},
	{regexp.MustCompile(`(?i)(auth_token=)[A-Za-z0-9_\-./+=]{16,}`), "${1}" + Redacted},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}`), Redacted},
	{regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), Redacted},
	{regexp.MustCompile(`sk-(?:ant-)?[A-Za-z0-9_\-]{20,}`), Redacted},
	{regexp.MustCompile(`((?:postgres(?:ql)?|rediss?)://[^:/\s]+:)[^@\s]+@`), "${1}" + Redacted + "@"},
}

// Redact masks credentials in free text bound for logs, audit rows or chat
// replies: key=value secrets, bearer tokens, session cookies, JWTs, provider
// API keys and passwords inside database URLs.
func Redact(s string) string {
	if s == "" {
		return s
	}
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

var sensitiveKeyParts = []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer", "cookie", "credential"}

// SensitiveKey reports whether a field named key should never be written out
// in the clear.
func SensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}
