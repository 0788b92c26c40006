package safety

import (
	"regexp"

	"github.com/basket/taskchat/internal/shared"
)

// Leak describes a secret-looking string found in model output.
type Leak struct {
	Kind   string
	Sample string // truncated match, for logs
}

var leakPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*"?[A-Za-z0-9_\-./+=]{16,}"?`), "API key"},
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`), "bearer token"},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`), "JWT"},
	{regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), "Google API key"},
	{regexp.MustCompile(`sk-(ant-)?[A-Za-z0-9_\-]{20,}`), "provider API key"},
	{regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----`), "private key"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*"?[^\s"]{8,}"?`), "password"},
	{regexp.MustCompile(`\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53}`), "bcrypt hash"},
}

// ScanLeaks reports secret-looking substrings in output, at most three per
// kind. The input is not modified.
func ScanLeaks(output string) []Leak {
	if output == "" {
		return nil
	}
	var leaks []Leak
	for _, pat := range leakPatterns {
		for _, match := range pat.re.FindAllString(output, 3) {
			sample := match
			if len(sample) > 20 {
				sample = sample[:8] + "..."
			}
			leaks = append(leaks, Leak{Kind: pat.kind, Sample: sample})
		}
	}
	return leaks
}

// RedactLeaks replaces every secret-looking substring with [REDACTED].
func RedactLeaks(output string) string {
	for _, pat := range leakPatterns {
		output = pat.re.ReplaceAllString(output, shared.Redacted)
	}
	return output
}
