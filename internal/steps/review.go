package steps

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
)

// unparsableReview is the comment of a verdict built from unusable output.
const unparsableReview = "Review response could not be parsed"

// maxReviewDiff bounds the diff shown to the model.
const maxReviewDiff = 12000

const reviewPrompt = `You are a code review agent. Review the change below for correctness, security, style and performance.

Request: %s

Change summary: %s

Diff:
%s

Context:
%s

Respond with a JSON object:
{
  "approved": true|false,
  "issues": [{"severity": "critical|high|medium|low", "type": "bug|security|style|performance", "description": "...", "line": 0, "suggestion": "..."}],
  "overall_quality": "excellent|good|fair|poor",
  "summary": "..."
}`

type reviewIssue struct {
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	Suggestion  string `json:"suggestion"`
}

type reviewResponse struct {
	Approved       bool          `json:"approved"`
	Issues         []reviewIssue `json:"issues"`
	OverallQuality string        `json:"overall_quality"`
	Summary        string        `json:"summary"`
}

// approve reports whether the change may be published: the model
// approved it and raised no critical issue.
func (r reviewResponse) approve() bool {
	if !r.Approved {
		return false
	}
	for _, is := range r.Issues {
		if strings.EqualFold(is.Severity, "critical") {
			return false
		}
	}
	return true
}

func (is reviewIssue) comment() string {
	sev := is.Severity
	if sev == "" {
		sev = "info"
	}
	c := fmt.Sprintf("[%s] %s", sev, is.Description)
	if is.Line > 0 {
		c = fmt.Sprintf("[%s] line %d: %s", sev, is.Line, is.Description)
	}
	if is.Suggestion != "" {
		c += " (suggestion: " + is.Suggestion + ")"
	}
	return c
}

// Reviewer judges the latest code change.
type Reviewer struct {
	deps Deps
}

// NewReviewer returns the Review stage executor.
func NewReviewer(deps Deps) *Reviewer {
	return &Reviewer{deps: deps.withDefaults()}
}

func (r *Reviewer) Stage() Stage { return StageReview }

// Execute reviews in.Change. Unparsable output is a rejection, not an
// error.
func (r *Reviewer) Execute(ctx context.Context, in Input) (Result, error) {
	return r.deps.guard(ctx, StageReview, func(ctx context.Context) (Result, error) {
		if in.Change == nil {
			return nil, fmt.Errorf("%w: no code change", ErrMissingInput)
		}
		retrieved, err := r.deps.retrieve(ctx, in, in.UserRequest+"\n"+in.Change.Summary, memory.Filter{})
		if err != nil {
			return nil, err
		}
		rc := Merge(in.History, retrieved)

		diff := in.Change.Diff()
		if c := Clip(diff, maxReviewDiff); len(c) < len(diff) {
			diff = c + "\n..."
		}
		response, err := r.deps.invoke(ctx, StageReview, fmt.Sprintf(reviewPrompt, in.UserRequest, in.Change.Summary, diff, rc.Render()))
		if err != nil {
			return nil, err
		}

		verdict := &ReviewVerdict{}
		var parsed reviewResponse
		if err := decodeJSON(response, &parsed); err != nil {
			r.deps.Logger.Warn(ctx, "review not parsable", zap.Error(err))
			verdict.Comments = []string{unparsableReview}
			verdict.Summary = unparsableReview
		} else {
			verdict.Approved = parsed.approve()
			verdict.Summary = parsed.Summary
			for _, is := range parsed.Issues {
				verdict.Comments = append(verdict.Comments, is.comment())
			}
			if !verdict.Approved && len(verdict.Comments) == 0 {
				verdict.Comments = []string{"Rejected without comments: " + parsed.Summary}
			}
		}

		outcome := "Needs fixes"
		if verdict.Approved {
			outcome = "Approved"
		}
		decision := fmt.Sprintf("Code review for %s: %s", strings.Join(in.Change.Paths(), ", "), outcome)
		if err := r.deps.remember(ctx, in, StageReview, "reviewer", decision, verdict.Text()); err != nil {
			return nil, err
		}
		return verdict, nil
	})
}

// Text renders the verdict for history and prompts.
func (v *ReviewVerdict) Text() string {
	status := "rejected"
	if v.Approved {
		status = "approved"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Review %s", status)
	if v.Summary != "" {
		fmt.Fprintf(&b, ": %s", v.Summary)
	}
	for _, c := range v.Comments {
		fmt.Fprintf(&b, "\n- %s", c)
	}
	return b.String()
}
