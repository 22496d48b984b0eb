package steps

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/vcs"
)

// VCS publishes changes to the remote host.
type VCS interface {
	CreateBranch(ctx context.Context, name string) error
	Commit(ctx context.Context, message string, paths []string) (string, error)
	Push(ctx context.Context, branch string) error
	OpenChangeRequest(ctx context.Context, req vcs.ChangeRequest) (*vcs.ChangeRequestResult, error)
}

// Publisher commits the latest change to a fresh branch, pushes it and
// opens a pull request.
type Publisher struct {
	deps Deps
	vcs  VCS
	base string
}

// NewPublisher returns the Publish stage executor targeting base.
func NewPublisher(deps Deps, v VCS, base string) *Publisher {
	return &Publisher{deps: deps.withDefaults(), vcs: v, base: base}
}

func (p *Publisher) Stage() Stage { return StagePublish }

// BranchName is the branch for one iteration of a run.
func BranchName(runID string, iteration int) string {
	short := strings.ReplaceAll(runID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("fuzagent/%s-%d", short, iteration)
}

func (p *Publisher) Execute(ctx context.Context, in Input) (Result, error) {
	return p.deps.guard(ctx, StagePublish, func(ctx context.Context) (Result, error) {
		if in.Change == nil {
			return nil, fmt.Errorf("%w: no code change", ErrMissingInput)
		}
		branch := BranchName(in.RunID, in.Iteration)
		if err := p.vcs.CreateBranch(ctx, branch); err != nil {
			return nil, err
		}
		sha, err := p.vcs.Commit(ctx, "fuzagent: "+prefix(in.UserRequest, 50), in.Change.Paths())
		if err != nil {
			return nil, err
		}
		if err := p.vcs.Push(ctx, branch); err != nil {
			return nil, err
		}
		pr, err := p.vcs.OpenChangeRequest(ctx, vcs.ChangeRequest{
			Title: prefix(in.UserRequest, 60),
			Body:  changeRequestBody(in),
			Head:  branch,
			Base:  p.base,
		})
		if err != nil {
			return nil, err
		}

		res := &PublishResult{Ref: sha, Branch: branch, Location: pr.URL, Number: pr.Number}
		if err := p.deps.remember(ctx, in, StagePublish, "publisher", "Published "+branch, pr.URL); err != nil {
			return nil, err
		}
		p.deps.Logger.Info(ctx, "change published", zap.String("branch", branch), zap.String("sha", sha), zap.String("url", pr.URL))
		return res, nil
	})
}

func changeRequestBody(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Request\n%s\n\n## Changes\n", in.UserRequest)
	for _, path := range in.Change.Paths() {
		fmt.Fprintf(&b, "- %s\n", path)
	}
	if in.Change.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", in.Change.Summary)
	}
	if in.Plan != nil && in.Plan.Understanding != "" {
		fmt.Fprintf(&b, "\n## Plan\n%s\n", in.Plan.Understanding)
	}
	fmt.Fprintf(&b, "\n_Run %s, iteration %d._\n", in.RunID, in.Iteration)
	return b.String()
}
