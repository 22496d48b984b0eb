package steps

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
)

// fallbackRisk is the only risk of a plan substituted for unparsable output.
const fallbackRisk = "Unable to parse plan, proceeding with basic execution"

const planPrompt = `You are a software planning agent. Break the request below into concrete steps.

Request: %s

%s

Respond with a JSON object:
{
  "understanding": "what the request asks for",
  "steps": [{"agent": "coder|tester|reviewer", "action": "what to do", "files": ["path"], "dependencies": ["step"]}],
  "estimated_complexity": "low|medium|high",
  "risks": ["risk"]
}`

// Planner decomposes the user request into a plan.
type Planner struct {
	deps Deps
}

// NewPlanner returns the Plan stage executor.
func NewPlanner(deps Deps) *Planner {
	return &Planner{deps: deps.withDefaults()}
}

func (p *Planner) Stage() Stage { return StagePlan }

// Execute asks for a plan. Output without a usable plan yields a single
// coder step carrying the request.
func (p *Planner) Execute(ctx context.Context, in Input) (Result, error) {
	return p.deps.guard(ctx, StagePlan, func(ctx context.Context) (Result, error) {
		if strings.TrimSpace(in.UserRequest) == "" {
			return nil, fmt.Errorf("%w: empty user request", ErrMissingInput)
		}
		retrieved, err := p.deps.retrieve(ctx, in, in.UserRequest, memory.Filter{})
		if err != nil {
			return nil, err
		}
		rc := Merge(in.History, retrieved)

		response, err := p.deps.invoke(ctx, StagePlan, fmt.Sprintf(planPrompt, in.UserRequest, rc.Render()))
		if err != nil {
			return nil, err
		}

		res := &PlanResult{}
		if err := decodeJSON(response, &res.Plan); err != nil || len(res.Plan.Steps) == 0 {
			p.deps.Logger.Warn(ctx, "plan not parsable, using fallback", zap.Error(err))
			res = &PlanResult{Plan: fallbackPlan(in.UserRequest), Fallback: true}
		}
		res.Plan.UserRequest = in.UserRequest

		if err := p.deps.remember(ctx, in, StagePlan, "planner", "Plan for: "+in.UserRequest, response); err != nil {
			return nil, err
		}
		return res, nil
	})
}

func fallbackPlan(request string) memory.Plan {
	return memory.Plan{
		UserRequest:   request,
		Understanding: request,
		Steps:         []memory.PlanStep{{Agent: "coder", Action: request}},
		Complexity:    "medium",
		Risks:         []string{fallbackRisk},
	}
}
