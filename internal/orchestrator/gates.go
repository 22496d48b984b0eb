package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/steps"
)

// Severity of a gate violation. Errors block publishing.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Violation is a problem a Gate found with an approved change.
type Violation struct {
	Gate        string
	Description string
	Severity    Severity
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Gate, v.Description)
}

// GateInput is what gates see of the current iteration.
type GateInput struct {
	Request string
	Change  *steps.CodeChange
	// Test is nil when no test command is configured.
	Test *steps.TestResult
}

// Gate validates an approved change before it is published.
type Gate interface {
	Name() string
	Check(ctx context.Context, in GateInput) []Violation
}

// DefaultGates are the gates New installs unless WithGates overrides them.
func DefaultGates() []Gate {
	return []Gate{NewVerificationGate(), NewChangeSizeGate(DefaultMaxFiles)}
}

// VerificationGate rejects a passing local test run whose output is usage
// text rather than test results, as produced by a misconfigured command.
type VerificationGate struct{}

func NewVerificationGate() *VerificationGate { return &VerificationGate{} }

func (g *VerificationGate) Name() string { return "verification" }

func (g *VerificationGate) Check(_ context.Context, in GateInput) []Violation {
	if in.Test == nil || !in.Test.Passed || !isHelpOutput(in.Test.Logs) {
		return nil
	}
	return []Violation{{
		Gate:        g.Name(),
		Description: fmt.Sprintf("%q printed usage text instead of running tests", in.Test.Command),
		Severity:    SeverityError,
	}}
}

// DefaultMaxFiles is the ChangeSizeGate warning threshold.
const DefaultMaxFiles = 5

// ChangeSizeGate warns about changes touching many files.
type ChangeSizeGate struct {
	maxFiles int
}

func NewChangeSizeGate(maxFiles int) *ChangeSizeGate {
	if maxFiles < 1 {
		maxFiles = DefaultMaxFiles
	}
	return &ChangeSizeGate{maxFiles: maxFiles}
}

func (g *ChangeSizeGate) Name() string { return "change-size" }

func (g *ChangeSizeGate) Check(_ context.Context, in GateInput) []Violation {
	if in.Change == nil || len(in.Change.Files) <= g.maxFiles {
		return nil
	}
	return []Violation{{
		Gate:        g.Name(),
		Description: fmt.Sprintf("%d files changed in one iteration (threshold %d)", len(in.Change.Files), g.maxFiles),
		Severity:    SeverityWarning,
	}}
}

func blocking(vs []Violation) []Violation {
	var out []Violation
	for _, v := range vs {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

func describe(vs []Violation) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\n")
}

var (
	helpPatterns = []string{
		"usage:",
		"--help",
		"-h, --help",
		"show help",
		"show this help",
		"options:",
	}

	// Output matching any of these came from a real test run.
	testPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(pass|fail|error).*\d+`), // "PASS", "1 passed"
		regexp.MustCompile(`(?i)test.*\([\d.]+s\)`),      // "TestFoo (0.00s)"
		regexp.MustCompile(`✓|✗`),
		regexp.MustCompile(`(?i)ok\s+\S+\s+[\d.]+s`), // "ok pkg 0.001s"
		regexp.MustCompile(`(?i)test suites?:\s*\d+`),
	}
)

// isHelpOutput reports whether output looks like --help text.
func isHelpOutput(output string) bool {
	if output == "" {
		return false
	}
	for _, p := range testPatterns {
		if p.MatchString(output) {
			return false
		}
	}
	lower := strings.ToLower(output)
	n := 0
	for _, p := range helpPatterns {
		if strings.Contains(lower, p) {
			n++
		}
	}
	return n >= 2
}
