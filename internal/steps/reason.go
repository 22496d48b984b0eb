package steps

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
)

// ReasoningType selects what a Reasoner call concentrates on.
type ReasoningType string

const (
	ReasoningPlanning     ReasoningType = "complex_planning"
	ReasoningDebugging    ReasoningType = "debug_complex_issue"
	ReasoningArchitecture ReasoningType = "architectural_decision"
)

// PlanConfidence is the confidence a reasoned plan must exceed to replace
// the planner's.
const PlanConfidence = 0.5

const (
	defaultConfidence  = 0.5
	fallbackConfidence = 0.3
	// maxProblem keeps problem_text within the store's attribute limit so
	// that history subjects equal the stored value.
	maxProblem = 400
)

type reasoningFocus struct {
	role  string
	focus string
}

var focuses = map[ReasoningType]reasoningFocus{
	ReasoningPlanning: {
		role:  "You specialize in project planning and task decomposition. Break complex tasks into manageable steps with clear dependencies.",
		focus: "- Task decomposition\n- Dependency analysis\n- Files to create or modify\n- Testing requirements\n- Risk mitigation",
	},
	ReasoningDebugging: {
		role:  "You specialize in debugging and root cause analysis. Trace execution paths and identify the underlying issue, not the symptom.",
		focus: "- Root cause analysis\n- Error patterns seen before\n- System state at the time of failure\n- Concrete fixes\n- Prevention",
	},
	ReasoningArchitecture: {
		role:  "You specialize in software architecture and system design. Weigh scalability, maintainability and long-term implications.",
		focus: "- System architecture implications\n- Scalability\n- Maintainability\n- Technology choices\n- Integration points",
	},
}

const reasonPrompt = `You are an expert reasoning system. %s

Problem: %s

%s

%s

Reason step by step:
1. Break the problem into sub-problems
2. Analyze each sub-problem
3. Consider alternative approaches and their trade-offs
4. Conclude with a confidence level

Focus on:
%s

Respond with a JSON object:
{
  "steps": [{"step_number": 1, "description": "what this step reasons about", "analysis": "your analysis", "conclusion": "what follows"}],
  "overall_conclusion": "final conclusion or recommendation",
  "confidence": 0.0-1.0,
  "alternative_approaches": ["alternative"],
  "risks": ["risk"]%s
}`

const planField = `,
  "plan": {
    "understanding": "what the request asks for",
    "steps": [{"agent": "coder|tester|reviewer", "action": "what to do", "files": ["path"], "dependencies": ["step"]}],
    "estimated_complexity": "low|medium|high",
    "risks": ["risk"]
  }`

// ReasoningStep is one step of a reasoning chain.
type ReasoningStep struct {
	Number      int    `json:"step_number"`
	Description string `json:"description"`
	Analysis    string `json:"analysis"`
	Conclusion  string `json:"conclusion"`
}

// ReasoningResult is the output of the Reason stage. Fallback is set when
// the model's answer could not be parsed.
type ReasoningResult struct {
	Type         ReasoningType
	Problem      string
	Steps        []ReasoningStep
	Conclusion   string
	Confidence   float64
	Alternatives []string
	Risks        []string
	// Plan is the plan proposed by planning or architectural reasoning.
	Plan     *memory.Plan
	Fallback bool
}

func (*ReasoningResult) Stage() Stage { return StageReason }

// ReplacesPlan reports whether Plan supersedes the planner's plan.
func (r *ReasoningResult) ReplacesPlan() bool {
	return !r.Fallback && r.Plan != nil && len(r.Plan.Steps) > 0 && r.Confidence > PlanConfidence
}

// Text renders the reasoning for run history and memory.
func (r *ReasoningResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reasoning (%s, confidence %.2f): %s\nConclusion: %s", r.Type, r.Confidence, r.Problem, r.Conclusion)
	for i, s := range r.Steps {
		fmt.Fprintf(&b, "\n%d. %s: %s", i+1, s.Description, s.Conclusion)
	}
	if len(r.Alternatives) > 0 {
		fmt.Fprintf(&b, "\nAlternatives: %s", strings.Join(r.Alternatives, "; "))
	}
	if len(r.Risks) > 0 {
		fmt.Fprintf(&b, "\nRisks: %s", strings.Join(r.Risks, "; "))
	}
	return b.String()
}

type reasoningJSON struct {
	Steps        []ReasoningStep `json:"steps"`
	Conclusion   string          `json:"overall_conclusion"`
	Confidence   *float64        `json:"confidence"`
	Alternatives []string        `json:"alternative_approaches"`
	Risks        []string        `json:"risks"`
	Plan         *memory.Plan    `json:"plan"`
}

// Reasoner performs multi-step reasoning ahead of Coding: restructuring
// the plan after Planning, or analyzing the root cause of a failure before
// a retry. Every call leaves a reasoning_trace in memory.
type Reasoner struct {
	deps Deps
}

// NewReasoner returns the Reason stage executor.
func NewReasoner(deps Deps) *Reasoner {
	return &Reasoner{deps: deps.withDefaults()}
}

func (r *Reasoner) Stage() Stage { return StageReason }

// Execute reasons about in. A failure selects debugging, a high-complexity
// plan architectural reasoning, anything else complex planning. Past
// reasoning traces on the same problem are retrieved as context.
func (r *Reasoner) Execute(ctx context.Context, in Input) (Result, error) {
	return r.deps.guard(ctx, StageReason, func(ctx context.Context) (Result, error) {
		if strings.TrimSpace(in.UserRequest) == "" {
			return nil, fmt.Errorf("%w: empty user request", ErrMissingInput)
		}
		kind, problem, details := frame(in)

		retrieved, err := r.deps.retrieve(ctx, in, "Reasoning: "+problem, memory.Filter{Kind: memory.KindReasoningTrace})
		if err != nil {
			return nil, err
		}
		rc := Merge(in.History, retrieved)

		f := focuses[kind]
		extra := ""
		if kind != ReasoningDebugging {
			extra = planField
		}
		response, err := r.deps.invoke(ctx, StageReason, fmt.Sprintf(reasonPrompt, f.role, problem, details, rc.Render(), f.focus, extra))
		if err != nil {
			return nil, err
		}

		res := parseReasoning(response)
		res.Type, res.Problem = kind, problem
		if res.Fallback {
			r.deps.Logger.Warn(ctx, "reasoning not parsable, using fallback", zap.String("type", string(kind)))
		}
		if kind == ReasoningDebugging {
			res.Plan = nil
		}
		if res.Plan != nil {
			res.Plan.UserRequest = in.UserRequest
		}

		if err := r.deps.put(ctx, in, StageReason, memory.KindReasoningTrace, res.Text(), memory.Attributes{
			"reasoning_type":  string(kind),
			"problem_text":    problem,
			"conclusion_text": res.Conclusion,
			"confidence":      res.Confidence,
			"step_count":      len(res.Steps),
		}); err != nil {
			return nil, err
		}
		r.deps.Logger.Debug(ctx, "reasoning completed",
			zap.String("type", string(kind)),
			zap.Float64("confidence", res.Confidence),
			zap.Int("steps", len(res.Steps)),
			zap.Bool("replaces_plan", res.ReplacesPlan()))
		return res, nil
	})
}

// frame picks the reasoning type for in and states its problem.
func frame(in Input) (ReasoningType, string, string) {
	request := Clip(in.UserRequest, maxProblem/2)
	switch {
	case strings.TrimSpace(in.Failure) != "":
		first, _, _ := strings.Cut(strings.TrimSpace(in.Failure), "\n")
		problem := fmt.Sprintf("Debug %s while implementing: %s", Clip(first, maxProblem/2-20), request)
		details := "Failure:\n" + in.Failure
		if in.Change != nil && len(in.Change.Files) > 0 {
			details += "\n\nChanged files: " + strings.Join(in.Change.Paths(), ", ")
		}
		return ReasoningDebugging, problem, details
	case in.Plan != nil && strings.EqualFold(in.Plan.Complexity, "high"):
		return ReasoningArchitecture, "Decide the architecture for: " + request, "Current plan:\n" + in.Plan.Text()
	case in.Plan != nil:
		return ReasoningPlanning, "Plan the step-by-step implementation of: " + request, "Current plan:\n" + in.Plan.Text()
	}
	return ReasoningPlanning, "Plan the step-by-step implementation of: " + request, "No plan yet."
}

// parseReasoning decodes a model answer. Unparsable output yields a
// low-confidence result carrying the raw answer as its only step.
func parseReasoning(response string) *ReasoningResult {
	var raw reasoningJSON
	if err := decodeJSON(response, &raw); err != nil {
		return &ReasoningResult{
			Steps: []ReasoningStep{{
				Number:      1,
				Description: "Parsing error",
				Analysis:    "Unable to parse reasoning response",
				Conclusion:  Clip(response, 500),
			}},
			Conclusion: "Reasoning completed but response format was invalid",
			Confidence: fallbackConfidence,
			Risks:      []string{"Response parsing failed"},
			Fallback:   true,
		}
	}

	res := &ReasoningResult{
		Steps:        raw.Steps,
		Conclusion:   strings.TrimSpace(raw.Conclusion),
		Confidence:   defaultConfidence,
		Alternatives: raw.Alternatives,
		Risks:        raw.Risks,
	}
	if res.Conclusion == "" {
		res.Conclusion = "Unable to reach conclusion"
	}
	if raw.Confidence != nil {
		res.Confidence = min(max(*raw.Confidence, 0), 1)
	}
	if raw.Plan != nil && len(raw.Plan.Steps) > 0 {
		for i := range raw.Plan.Steps {
			if raw.Plan.Steps[i].Agent == "" {
				raw.Plan.Steps[i].Agent = inferAgent(raw.Plan.Steps[i].Action)
			}
		}
		res.Plan = raw.Plan
	}
	return res
}

// inferAgent assigns a step without an agent by what its action mentions.
func inferAgent(action string) string {
	a := strings.ToLower(action)
	switch {
	case strings.Contains(a, "test"), strings.Contains(a, "verify"):
		return "tester"
	case strings.Contains(a, "review"), strings.Contains(a, "check"):
		return "reviewer"
	}
	return "coder"
}
