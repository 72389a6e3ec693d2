package redact

import "regexp"

// Matcher replaces every span matching Pattern with Replacement. Replacement may
// reference capture groups.
type Matcher struct {
	Kind        string
	Pattern     *regexp.Regexp
	Replacement string
}

func marker(kind string) string {
	return "[REDACTED_" + kind + "]"
}

func newMatcher(kind, expr string) Matcher {
	return Matcher{Kind: kind, Pattern: regexp.MustCompile(expr), Replacement: marker(kind)}
}

// DefaultMatchers returns the content matchers in application order. Specific
// shapes come first so that, for example, a card number is not half-eaten by the
// phone matcher. No replacement marker is itself matched by any pattern, which keeps
// redaction idempotent.
func DefaultMatchers() []Matcher {
	return []Matcher{
		newMatcher("BEARER", `(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`),
		newMatcher("TOKEN", `\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
		{
			Kind:        "SECRET",
			Pattern:     regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|client_secret|token|api[_-]?key)(\s*[:=]\s*)[^\s,;&"']+`),
			Replacement: "${1}${2}" + marker("SECRET"),
		},
		newMatcher("API_KEY", `\b(?:sk|pk|rk)_(?:live|test)_[A-Za-z0-9]{16,}\b|\bAKIA[0-9A-Z]{16}\b`),
		newMatcher("EMAIL", `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		newMatcher("BANK_ACCOUNT", `\b\d{2}-\d{2}-\d{2}\s*\d{8}\b|\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
		{
			// Guarded by a non-digit rather than \b so numbers glued to letters or
			// underscores ("ref_4111...") are caught too. Both forms run to the end of
			// the digit run, so a second pass finds nothing left.
			Kind:        "CARD",
			Pattern:     regexp.MustCompile(`(^|[^0-9])(?:\d{13,}|\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4,})`),
			Replacement: "${1}" + marker("CARD"),
		},
		newMatcher("SSN", `\b\d{3}-\d{2}-\d{4}\b|\b[A-CEGHJ-PR-TW-Z]{2}\d{6}[A-D]\b`),
		newMatcher("PHONE", `(?:\+\d{1,3}[\s.-]?)?\(?\b\d{2,5}\)?[\s.-]?\d{3,4}[\s.-]?\d{3,4}\b`),
	}
}
