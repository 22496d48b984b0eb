package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/steps"
)

func TestVerificationGate(t *testing.T) {
	usage := "Usage: go <command> [arguments]\n\nOptions:\n  -h, --help  show help"

	tests := []struct {
		name string
		test *steps.TestResult
		want int
	}{
		{name: "no test stage", test: nil},
		{name: "real test output", test: &steps.TestResult{Command: "go test ./...", Passed: true, Logs: "ok  \texample.com/pkg\t0.012s"}},
		{name: "usage text", test: &steps.TestResult{Command: "go", Passed: true, Logs: usage}, want: 1},
		{name: "failed run is not judged", test: &steps.TestResult{Command: "go", Passed: false, Logs: usage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := NewVerificationGate().Check(context.Background(), GateInput{Test: tt.test})
			require.Len(t, vs, tt.want)
			if tt.want > 0 {
				assert.Equal(t, SeverityError, vs[0].Severity)
				assert.Equal(t, "verification", vs[0].Gate)
			}
		})
	}
}

func TestChangeSizeGate(t *testing.T) {
	change := func(n int) *steps.CodeChange {
		c := &steps.CodeChange{}
		for i := 0; i < n; i++ {
			c.Files = append(c.Files, steps.FileChange{Path: fmt.Sprintf("f%d.go", i)})
		}
		return c
	}

	gate := NewChangeSizeGate(2)
	assert.Empty(t, gate.Check(context.Background(), GateInput{Change: change(2)}))
	assert.Empty(t, gate.Check(context.Background(), GateInput{}))

	vs := gate.Check(context.Background(), GateInput{Change: change(3)})
	require.Len(t, vs, 1)
	assert.Equal(t, SeverityWarning, vs[0].Severity)
	assert.Empty(t, blocking(vs))

	assert.Equal(t, DefaultMaxFiles, NewChangeSizeGate(0).maxFiles)
}

func TestIsHelpOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		isHelp bool
	}{
		{name: "empty", output: "", isHelp: false},
		{name: "go test pass", output: "=== RUN   TestFoo\n--- PASS: TestFoo (0.00s)\nPASS\nok  \tpkg\t0.002s", isHelp: false},
		{name: "pytest", output: "===== 3 passed in 0.12s =====", isHelp: false},
		{name: "jest", output: "Test Suites: 2 passed, 2 total", isHelp: false},
		{name: "usage and options", output: "usage: pytest [options] [file_or_dir]\noptions:\n  -k EXPRESSION", isHelp: true},
		{name: "single help marker", output: "see --help for more", isHelp: false},
		{name: "help flags", output: "Usage of make:\n  -h, --help   show this help", isHelp: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isHelp, isHelpOutput(tt.output))
		})
	}
}

func TestDescribeViolations(t *testing.T) {
	vs := []Violation{
		{Gate: "a", Description: "first", Severity: SeverityError},
		{Gate: "b", Description: "second", Severity: SeverityWarning},
	}
	assert.Equal(t, "[error] a: first\n[warning] b: second", describe(vs))
	assert.Equal(t, vs[:1], blocking(vs))
}
