package secrets

import "regexp"

// rule is a regexp detector. When group > 0 only that submatch is redacted.
type rule struct {
	id      string
	pattern *regexp.Regexp
	group   int
}

// logRules cover credential shapes that show up in build and test output.
var logRules = []rule{
	{id: "url-credentials", pattern: regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s:/@]+:([^\s@/]+)@`), group: 1},
	{id: "bearer-token", pattern: regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9\-._~+/]{16,}=*)`), group: 1},
	{id: "assigned-secret", pattern: regexp.MustCompile(`(?i)(?:password|passwd|secret|api[_-]?key|access[_-]?token)\s*[:=]\s*['"]?([^\s'"]{8,})`), group: 1},
	{id: "github-token", pattern: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{id: "private-key", pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
}

// find returns the secret substrings rule r matches in content.
func (r rule) find(content string) []string {
	var out []string
	for _, m := range r.pattern.FindAllStringSubmatch(content, -1) {
		if r.group < len(m) && m[r.group] != "" {
			out = append(out, m[r.group])
		}
	}
	return out
}
