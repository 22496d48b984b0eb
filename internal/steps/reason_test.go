package steps

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/reasoning"
)

const reasonedPlanJSON = `{
  "steps": [
    {"step_number": 1, "description": "find the router", "analysis": "routes live in server.go", "conclusion": "register there"},
    {"step_number": 2, "description": "cover it", "analysis": "handler is pure", "conclusion": "table test"}
  ],
  "overall_conclusion": "add the handler next to the existing routes",
  "confidence": %s,
  "alternative_approaches": ["separate admin listener"],
  "risks": ["route conflicts"],
  "plan": {
    "understanding": "expose GET /health on the main router",
    "steps": [
      {"agent": "coder", "action": "add handler to server.go", "files": ["server.go"]},
      {"action": "verify the handler with a test", "files": ["server_test.go"]},
      {"action": "check naming against existing routes"}
    ],
    "estimated_complexity": "low"
  }
}`

func reasonedPlan(confidence string) string {
	return fmt.Sprintf(reasonedPlanJSON, confidence)
}

func TestReasonerExecute(t *testing.T) {
	highPlan := &memory.Plan{UserRequest: "add a health endpoint", Complexity: "high", Steps: []memory.PlanStep{{Agent: "coder", Action: "rework routing"}}}
	lowPlan := &memory.Plan{UserRequest: "add a health endpoint", Complexity: "low", Steps: []memory.PlanStep{{Agent: "coder", Action: "add handler"}}}

	tests := []struct {
		name           string
		plan           *memory.Plan
		failure        string
		response       string
		wantType       ReasoningType
		wantConfidence float64
		wantSteps      int
		wantPlan       bool
		wantReplace    bool
		wantFallback   bool
	}{
		{"confident plan", lowPlan, "", reasonedPlan("0.8"), ReasoningPlanning, 0.8, 2, true, true, false},
		{"plan at threshold", lowPlan, "", reasonedPlan("0.5"), ReasoningPlanning, 0.5, 2, true, false, false},
		{"unsure plan", lowPlan, "", reasonedPlan("0.3"), ReasoningPlanning, 0.3, 2, true, false, false},
		{"confidence clamped", nil, "", reasonedPlan("1.7"), ReasoningPlanning, 1, 2, true, true, false},
		{"missing confidence", lowPlan, "", `{"overall_conclusion": "fine", "plan": {"steps": [{"agent": "coder", "action": "x"}]}}`, ReasoningPlanning, 0.5, 0, true, false, false},
		{"high complexity", highPlan, "", reasonedPlan("0.9"), ReasoningArchitecture, 0.9, 2, true, true, false},
		{"failure debugs", lowPlan, "CI failed:\nCheck: test\nStatus: failure", reasonedPlan("0.9"), ReasoningDebugging, 0.9, 2, false, false, false},
		{"prose", lowPlan, "", "Routing is the main concern here.", ReasoningPlanning, 0.3, 1, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &mockLLM{}
			llm.respond(StageReason, tt.response, nil, nil)
			deps, store := newTestDeps(t, llm)

			in := testInput()
			in.Plan, in.Failure = tt.plan, tt.failure
			res, err := NewReasoner(deps).Execute(context.Background(), in)
			require.NoError(t, err)
			rr, ok := res.(*ReasoningResult)
			require.True(t, ok)

			assert.Equal(t, tt.wantType, rr.Type)
			assert.InDelta(t, tt.wantConfidence, rr.Confidence, 1e-9)
			assert.Len(t, rr.Steps, tt.wantSteps)
			assert.Equal(t, tt.wantPlan, rr.Plan != nil)
			assert.Equal(t, tt.wantReplace, rr.ReplacesPlan())
			assert.Equal(t, tt.wantFallback, rr.Fallback)
			if rr.Plan != nil {
				assert.Equal(t, "add a health endpoint", rr.Plan.UserRequest)
			}

			traces := searchKind(t, store, rr.Problem, memory.KindReasoningTrace)
			require.Len(t, traces, 1)
			a := traces[0].Attributes
			assert.Equal(t, string(tt.wantType), a.String("reasoning_type"))
			assert.Equal(t, rr.Problem, a.String("problem_text"))
			assert.Equal(t, rr.Conclusion, a.String("conclusion_text"))
			assert.InDelta(t, tt.wantConfidence, a.Float("confidence"), 1e-9)
			assert.Equal(t, int64(tt.wantSteps), a.Int("step_count"))
			assert.Equal(t, string(StageReason), a.String("stage"))
			llm.AssertExpectations(t)
		})
	}
}

func TestReasonerInfersPlanAgents(t *testing.T) {
	llm := &mockLLM{}
	llm.respond(StageReason, reasonedPlan("0.8"), nil, nil)
	deps, _ := newTestDeps(t, llm)

	res, err := NewReasoner(deps).Execute(context.Background(), testInput())
	require.NoError(t, err)
	plan := res.(*ReasoningResult).Plan
	require.NotNil(t, plan)

	agents := make([]string, len(plan.Steps))
	for i, s := range plan.Steps {
		agents[i] = s.Agent
	}
	assert.Equal(t, []string{"coder", "tester", "reviewer"}, agents)
	assert.Equal(t, "expose GET /health on the main router", plan.Understanding)
}

func TestReasonerPrompt(t *testing.T) {
	t.Run("planning asks for a plan and sees past reasoning", func(t *testing.T) {
		llm := &mockLLM{}
		var prompt string
		llm.respond(StageReason, reasonedPlan("0.8"), nil, &prompt)
		deps, store := newTestDeps(t, llm)

		_, err := store.Put(context.Background(), memory.KindReasoningTrace,
			"Problem: Plan the step-by-step implementation of: add a readiness endpoint\nConclusion: reuse the health router",
			memory.Attributes{
				"reasoning_type":  string(ReasoningPlanning),
				"problem_text":    "Plan the step-by-step implementation of: add a readiness endpoint",
				"conclusion_text": "reuse the health router",
				"confidence":      0.9,
				"step_count":      3,
			}, "")
		require.NoError(t, err)

		_, err = NewReasoner(deps).Execute(context.Background(), testInput())
		require.NoError(t, err)
		assert.Contains(t, prompt, "Problem: Plan the step-by-step implementation of: add a health endpoint")
		assert.Contains(t, prompt, "Conclusion: reuse the health router")
		assert.Contains(t, prompt, `"plan": {`)
		assert.Contains(t, prompt, "Task decomposition")
	})

	t.Run("debugging carries the failure and changed files", func(t *testing.T) {
		llm := &mockLLM{}
		var prompt string
		llm.respond(StageReason, `{"overall_conclusion": "nil map", "confidence": 0.7}`, nil, &prompt)
		deps, _ := newTestDeps(t, llm)

		in := testInput()
		in.Failure = "Local tests failed (go test ./...):\npanic: assignment to entry in nil map"
		in.Change = &CodeChange{Files: []FileChange{{Path: "server.go"}}}
		res, err := NewReasoner(deps).Execute(context.Background(), in)
		require.NoError(t, err)

		rr := res.(*ReasoningResult)
		assert.Equal(t, "Debug Local tests failed (go test ./...): while implementing: add a health endpoint", rr.Problem)
		assert.Contains(t, prompt, "panic: assignment to entry in nil map")
		assert.Contains(t, prompt, "Changed files: server.go")
		assert.Contains(t, prompt, "Root cause analysis")
		assert.NotContains(t, prompt, `"plan": {`)
	})
}

func TestReasonerErrors(t *testing.T) {
	t.Run("empty request", func(t *testing.T) {
		deps, _ := newTestDeps(t, &mockLLM{})
		in := testInput()
		in.UserRequest = ""
		_, err := NewReasoner(deps).Execute(context.Background(), in)

		var see *StepExecutionError
		require.ErrorAs(t, err, &see)
		assert.Equal(t, StageReason, see.Stage)
		assert.ErrorIs(t, err, ErrMissingInput)
	})

	t.Run("capability unavailable", func(t *testing.T) {
		llm := &mockLLM{}
		llm.respond(StageReason, "", reasoning.ErrUnavailable, nil)
		deps, store := newTestDeps(t, llm)
		_, err := NewReasoner(deps).Execute(context.Background(), testInput())

		var see *StepExecutionError
		require.ErrorAs(t, err, &see)
		assert.ErrorIs(t, err, reasoning.ErrUnavailable)
		assert.Empty(t, searchKind(t, store, "Reasoning", memory.KindReasoningTrace))
	})
}
