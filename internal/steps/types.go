package steps

import (
	"context"
	"strings"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
)

// Stage names a pipeline stage.
type Stage string

const (
	StagePlan    Stage = "plan"
	StageReason  Stage = "reason"
	StageCode    Stage = "code"
	StageTest    Stage = "test"
	StageReview  Stage = "review"
	StagePublish Stage = "publish"
	// StageCI labels history entries produced from CI feedback.
	StageCI Stage = "ci"
)

// HistoryEntry is one outcome of the current run. Kind and Subject, when
// set, identify what the entry is about so that retrieved memory on the
// same subject can be shadowed.
type HistoryEntry struct {
	Iteration int
	Stage     Stage
	Kind      memory.Kind
	Subject   string
	Text      string
}

// Input is what every executor receives.
type Input struct {
	RunID       string
	Iteration   int
	Namespace   string
	UserRequest string
	Plan        *memory.Plan
	// Change is the latest code change of the run, if any.
	Change *CodeChange
	// Failure is the most recent failure of the run: CI logs, local test
	// output or review comments. Empty on the first attempt.
	Failure string
	History []HistoryEntry
}

// Executor runs one stage.
type Executor interface {
	Stage() Stage
	Execute(ctx context.Context, in Input) (Result, error)
}

// Result is one of *PlanResult, *ReasoningResult, *CodeChange,
// *TestResult, *ReviewVerdict or *PublishResult.
type Result interface {
	Stage() Stage
}

// PlanResult carries the plan. Fallback is set when the model's answer
// could not be parsed and a single-step plan was substituted.
type PlanResult struct {
	Plan     memory.Plan
	Fallback bool
}

func (*PlanResult) Stage() Stage { return StagePlan }

// FileChange is one written file.
type FileChange struct {
	Path     string
	Previous string
	Content  string
	Created  bool
	// Patch is a unified diff from Previous to Content.
	Patch string
}

// CodeChange is the output of the Code stage.
type CodeChange struct {
	Files   []FileChange
	Summary string
}

func (*CodeChange) Stage() Stage { return StageCode }

// Paths lists the changed files.
func (c *CodeChange) Paths() []string {
	out := make([]string, len(c.Files))
	for i, f := range c.Files {
		out[i] = f.Path
	}
	return out
}

// Diff concatenates the per-file patches.
func (c *CodeChange) Diff() string {
	var b strings.Builder
	for _, f := range c.Files {
		b.WriteString(f.Patch)
	}
	return b.String()
}

// TestResult is the output of the Test stage.
type TestResult struct {
	Command string
	Passed  bool
	Logs    string
	// Summary lists extracted failures, or "All tests passed".
	Summary string
}

func (*TestResult) Stage() Stage { return StageTest }

// ReviewVerdict is the output of the Review stage.
type ReviewVerdict struct {
	Approved bool
	Comments []string
	Summary  string
}

func (*ReviewVerdict) Stage() Stage { return StageReview }

// PublishResult is the output of the Publish stage. Ref is the pushed
// commit SHA that CI reports against.
type PublishResult struct {
	Ref      string
	Branch   string
	Location string
	Number   int
}

func (*PublishResult) Stage() Stage { return StagePublish }
