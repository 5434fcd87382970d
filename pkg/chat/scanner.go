package chat

import "regexp"

// Redactor strips credential-looking strings out of text before it is
// forwarded to an agent prompt or rendered into a pull request body.
type Redactor struct {
	patterns []*regexp.Regexp
}

var defaultPatterns = []string{
	// OpenAI and Anthropic API keys
	`sk-[A-Za-z0-9]{48}`,
	`sk-proj-[A-Za-z0-9_-]{48,}`,
	`sk-ant-[A-Za-z0-9_-]{95,}`,

	// AWS access keys
	`AKIA[0-9A-Z]{16}`,

	// Generic key/secret assignments
	`api[_-]?key[_-]?[:=]\s*['\"]?[A-Za-z0-9_-]{20,}['\"]?`,
	`secret[_-]?[:=]\s*['\"]?[A-Za-z0-9_-]{20,}['\"]?`,

	// Bearer tokens
	`Bearer\s+[A-Za-z0-9_-]{20,}`,

	// GitHub tokens
	`gh[porus]_[A-Za-z0-9]{36}`,

	// PEM private key headers
	`-----BEGIN\s+(?:RSA|DSA|EC|OPENSSH|PGP)\s+PRIVATE\s+KEY-----`,
}

// NewRedactor compiles the default credential patterns.
func NewRedactor() *Redactor {
	compiled := make([]*regexp.Regexp, 0, len(defaultPatterns))
	for _, p := range defaultPatterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return &Redactor{patterns: compiled}
}

// Redact replaces every match with a placeholder and reports whether
// anything was replaced.
func (r *Redactor) Redact(text string) (string, bool) {
	redacted := false
	for _, re := range r.patterns {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, "[redacted]")
			redacted = true
		}
	}
	return text, redacted
}
