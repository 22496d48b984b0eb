package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Plan is a decomposed user request.
type Plan struct {
	UserRequest   string     `json:"user_request"`
	Understanding string     `json:"understanding"`
	Steps         []PlanStep `json:"steps"`
	Complexity    string     `json:"estimated_complexity"`
	Risks         []string   `json:"risks"`
}

// PlanStep is one unit of work within a Plan.
type PlanStep struct {
	Agent        string   `json:"agent"`
	Action       string   `json:"action"`
	Files        []string `json:"files"`
	Dependencies []string `json:"dependencies"`
}

// Text renders the plan as stored content.
func (p Plan) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nUnderstanding: %s\n\nSteps:\n", p.UserRequest, p.Understanding)
	for i, st := range p.Steps {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, st.agent(), st.Action)
	}
	fmt.Fprintf(&b, "\nComplexity: %s\nRisks: %s", p.complexity(), strings.Join(p.Risks, ", "))
	return b.String()
}

func (p Plan) complexity() string {
	if p.Complexity == "" {
		return "unknown"
	}
	return p.Complexity
}

func (st PlanStep) agent() string {
	if st.Agent == "" {
		return "coder"
	}
	return st.Agent
}

// PutPlan stores p as one plan record followed by one plan_step record per
// step, in a single batch. It returns the plan ID first.
func (s *Store) PutPlan(ctx context.Context, p Plan, namespace string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "memory.PutPlan")
	defer span.End()

	recs := make([]Record, 0, len(p.Steps)+1)
	rec, err := s.prepare(KindPlan, p.Text(), Attributes{
		"user_request":  p.UserRequest,
		"understanding": p.Understanding,
		"complexity":    p.complexity(),
		"step_count":    len(p.Steps),
		"risks":         strings.Join(p.Risks, "; "),
	})
	if err != nil {
		return nil, err
	}
	recs = append(recs, rec)

	for i, st := range p.Steps {
		n := i + 1
		files := strings.Join(st.Files, ", ")
		rec, err := s.prepare(KindPlanStep,
			fmt.Sprintf("Step %d: %s\nAgent: %s\nFiles: %s", n, st.Action, st.agent(), files),
			Attributes{
				"user_request": p.UserRequest,
				"step_number":  n,
				"agent":        st.agent(),
				"action":       st.Action,
				"files":        files,
			})
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", n, err)
		}
		recs = append(recs, rec)
	}

	if err := s.write(ctx, namespace, recs); err != nil {
		return nil, err
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	s.logger.Info(ctx, "stored plan", zap.Int("steps", len(p.Steps)), zap.String("plan_id", ids[0]))
	return ids, nil
}
