package steps

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/secrets"
)

// maxTestLogs bounds the logs kept from one test run, in runes.
const maxTestLogs = 20000

// CommandRunner runs a command in dir. A non-zero exit is reported as
// failed=true with a nil error; err is for commands that could not run.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args []string) (output string, failed bool, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args []string) (string, bool, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), true, nil
	}
	if err != nil {
		return string(out), false, fmt.Errorf("running %s: %w", name, err)
	}
	return string(out), false, nil
}

// TesterConfig configures the Test stage.
type TesterConfig struct {
	Command string
	// Allowed lists permitted base commands.
	Allowed []string
	Dir     string
}

// Tester runs the configured test command in the workspace.
type Tester struct {
	deps     Deps
	cfg      TesterConfig
	runner   CommandRunner
	scrubber secrets.Scrubber
}

// NewTester returns the Test stage executor. A nil runner uses ExecRunner
// and a nil scrubber leaves logs unchanged.
func NewTester(deps Deps, cfg TesterConfig, runner CommandRunner, scrubber secrets.Scrubber) *Tester {
	if runner == nil {
		runner = ExecRunner{}
	}
	if scrubber == nil {
		scrubber = secrets.Noop()
	}
	return &Tester{deps: deps.withDefaults(), cfg: cfg, runner: runner, scrubber: scrubber}
}

func (t *Tester) Stage() Stage { return StageTest }

// Execute runs the command. A failing command is a successful stage with
// Passed=false.
func (t *Tester) Execute(ctx context.Context, in Input) (Result, error) {
	return t.deps.guard(ctx, StageTest, func(ctx context.Context) (Result, error) {
		name, args, err := t.command()
		if err != nil {
			return nil, err
		}
		out, failed, err := t.runner.Run(ctx, t.cfg.Dir, name, args)
		if err != nil {
			return nil, err
		}
		logs := Tail(t.scrubber.Scrub(out).Scrubbed, maxTestLogs)
		res := &TestResult{Command: t.cfg.Command, Passed: !failed, Logs: logs}
		res.Summary = FailureSummary(res.Passed, logs)

		decision := "Tests passed"
		if failed {
			decision = "Tests failed"
		}
		if err := t.deps.remember(ctx, in, StageTest, "tester", decision, res.Summary); err != nil {
			return nil, err
		}
		t.deps.Logger.Info(ctx, "tests finished", zap.String("command", t.cfg.Command), zap.Bool("passed", res.Passed))
		return res, nil
	})
}

// command splits the configured command and checks it against the
// allow-list. Commands must be bare names resolved through PATH; anything
// with a path separator is rejected.
func (t *Tester) command() (string, []string, error) {
	fields := strings.Fields(t.cfg.Command)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("%w: no test command configured", ErrMissingInput)
	}
	name := fields[0]
	if strings.ContainsAny(name, `/\`) {
		return "", nil, fmt.Errorf("%w: %s (use a bare command name)", ErrCommandNotAllowed, name)
	}
	if !slices.Contains(t.cfg.Allowed, name) {
		return "", nil, fmt.Errorf("%w: %s", ErrCommandNotAllowed, name)
	}
	return name, fields[1:], nil
}

// TestFailure is one failure found in test output.
type TestFailure struct {
	Name    string
	Message string
	Line    int
}

// ExtractFailures finds failure markers in test output. Each marker line
// starts a failure named after its last "::" segment; the following
// non-blank lines form its message.
func ExtractFailures(output string) []TestFailure {
	var (
		failures []TestFailure
		cur      *TestFailure
	)
	for i, line := range strings.Split(output, "\n") {
		if isFailureLine(line) {
			if cur != nil {
				failures = append(failures, *cur)
			}
			name := strings.TrimSpace(line)
			if idx := strings.LastIndex(line, "::"); idx >= 0 {
				name = line[idx+2:]
			}
			cur = &TestFailure{Name: name, Line: i + 1}
			continue
		}
		if cur != nil && strings.TrimSpace(line) != "" {
			cur.Message += line + "\n"
		}
	}
	if cur != nil {
		failures = append(failures, *cur)
	}
	return failures
}

func isFailureLine(line string) bool {
	return strings.Contains(line, "FAILED") || strings.Contains(line, "ERROR") || strings.HasPrefix(line, "--- FAIL:")
}

// FailureSummary describes a test run for the next coding attempt.
func FailureSummary(passed bool, output string) string {
	if passed {
		return "All tests passed"
	}
	failures := ExtractFailures(output)
	if len(failures) == 0 {
		return "Tests failed but no specific failures extracted:\n" + prefix(output, 500)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d test failure(s):\n\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(&b, "Test: %s\nError: %s\n\n", f.Name, prefix(strings.TrimRight(f.Message, "\n"), 200))
	}
	return strings.TrimRight(b.String(), "\n")
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
