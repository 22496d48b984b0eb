package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Scrubber redacts secrets from text.
type Scrubber interface {
	Scrub(content string) *Result
}

// Result is the outcome of a Scrub call. Secret values are never kept.
type Result struct {
	Scrubbed string
	Findings []Finding
}

// Finding names the rule that matched and where.
type Finding struct {
	RuleID string
	Line   int
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Config configures New.
type Config struct {
	Enabled       bool
	AllowlistPath string
}

// Noop returns a Scrubber that passes content through.
func Noop() Scrubber { return noop{} }

type noop struct{}

func (noop) Scrub(content string) *Result { return &Result{Scrubbed: content} }

type scrubber struct {
	// gitleaks Detector keeps per-scan state, so scans are serialized.
	mu       sync.Mutex
	detector *detect.Detector
	allow    []*regexp.Regexp
}

// New builds a Scrubber from cfg. Disabled config returns Noop.
func New(cfg Config) (Scrubber, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	allow := allowlist.compile()
	if len(allow) > 0 || len(allowlist.StopWords) > 0 {
		global := &gitleaksConfig.Allowlist{Description: "fuzagent allowlist", StopWords: allowlist.StopWords}
		for _, re := range allow {
			global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, global)
	}
	return &scrubber{detector: detector, allow: allow}, nil
}

type match struct {
	secret string
	ruleID string
}

func (s *scrubber) Scrub(content string) *Result {
	if content == "" {
		return &Result{}
	}

	var matches []match
	s.mu.Lock()
	for _, f := range s.detector.DetectString(content) {
		if f.Secret != "" {
			matches = append(matches, match{secret: f.Secret, ruleID: f.RuleID})
		}
	}
	s.mu.Unlock()

	for _, r := range logRules {
		for _, secret := range r.find(content) {
			if !s.allowed(secret) {
				matches = append(matches, match{secret: secret, ruleID: r.id})
			}
		}
	}
	if len(matches) == 0 {
		return &Result{Scrubbed: content}
	}

	// Longest first so a secret containing another is replaced whole.
	sort.SliceStable(matches, func(i, j int) bool { return len(matches[i].secret) > len(matches[j].secret) })

	res := &Result{}
	scrubbed := content
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if seen[m.secret] {
			continue
		}
		seen[m.secret] = true
		idx := strings.Index(scrubbed, m.secret)
		if idx < 0 {
			continue
		}
		res.Findings = append(res.Findings, Finding{RuleID: m.ruleID, Line: strings.Count(scrubbed[:idx], "\n") + 1})
		scrubbed = strings.ReplaceAll(scrubbed, m.secret, "[REDACTED:"+m.ruleID+"]")
	}
	res.Scrubbed = scrubbed
	return res
}

func (s *scrubber) allowed(secret string) bool {
	for _, re := range s.allow {
		if re.MatchString(secret) {
			return true
		}
	}
	return false
}
