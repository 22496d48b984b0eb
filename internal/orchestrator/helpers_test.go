package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/ci"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/events"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory/memorytest"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/steps"
)

const testRequest = "fix failing test"

// fakeExecutor answers each call with fn(n, in), n counting from 1. It is
// safe for concurrent runs.
type fakeExecutor struct {
	stage  steps.Stage
	fn     func(n int, in steps.Input) (steps.Result, error)
	mu     sync.Mutex
	inputs []steps.Input
}

func (f *fakeExecutor) Stage() steps.Stage { return f.stage }

func (f *fakeExecutor) Execute(_ context.Context, in steps.Input) (steps.Result, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	n := len(f.inputs)
	f.mu.Unlock()
	return f.fn(n, in)
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// returns answers with results in order, repeating the last one.
func returns(stage steps.Stage, results ...steps.Result) *fakeExecutor {
	return &fakeExecutor{stage: stage, fn: func(n int, _ steps.Input) (steps.Result, error) {
		return results[min(n, len(results))-1], nil
	}}
}

func scripted(stage steps.Stage, fn func(n int, in steps.Input) (steps.Result, error)) *fakeExecutor {
	return &fakeExecutor{stage: stage, fn: fn}
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) AwaitOutcome(ctx context.Context, ref string, timeout time.Duration) (ci.Outcome, error) {
	args := m.Called(ctx, ref, timeout)
	return args.Get(0).(ci.Outcome), args.Error(1)
}

type mockMemory struct {
	mock.Mock
}

func (m *mockMemory) Put(ctx context.Context, kind memory.Kind, content string, attrs memory.Attributes, namespace string) (string, error) {
	args := m.Called(ctx, kind, content, attrs, namespace)
	return args.String(0), args.Error(1)
}

func (m *mockMemory) PutPlan(ctx context.Context, p memory.Plan, namespace string) ([]string, error) {
	args := m.Called(ctx, p, namespace)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// recorder collects published events.
type recorder struct {
	events []events.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error { return nil }

func (r *recorder) states() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.To
	}
	return out
}

func planResult() *steps.PlanResult {
	return &steps.PlanResult{Plan: memory.Plan{
		UserRequest:   testRequest,
		Understanding: "the handler test fails",
		Steps: []memory.PlanStep{
			{Agent: "coder", Action: "fix the handler", Files: []string{"handler.go"}},
			{Agent: "tester", Action: "run the tests"},
		},
		Complexity: "low",
	}}
}

// reasonedPlan is a reasoning result proposing a three-step plan.
func reasonedPlan(confidence float64) *steps.ReasoningResult {
	return &steps.ReasoningResult{
		Type:       steps.ReasoningPlanning,
		Problem:    "Plan the step-by-step implementation of: " + testRequest,
		Steps:      []steps.ReasoningStep{{Number: 1, Description: "locate the failure", Conclusion: "handler returns 500"}},
		Conclusion: "fix the status code and cover it",
		Confidence: confidence,
		Plan: &memory.Plan{
			UserRequest:   testRequest,
			Understanding: "the handler returns the wrong status",
			Steps: []memory.PlanStep{
				{Agent: "coder", Action: "return 200 from the handler", Files: []string{"handler.go"}},
				{Agent: "coder", Action: "add a regression test", Files: []string{"handler_test.go"}},
				{Agent: "reviewer", Action: "check status codes"},
			},
			Complexity: "low",
		},
	}
}

func codeChange(n int) *steps.CodeChange {
	return &steps.CodeChange{
		Files:   []steps.FileChange{{Path: "handler.go", Content: fmt.Sprintf("package main // v%d", n)}},
		Summary: fmt.Sprintf("attempt %d", n),
	}
}

func published(n int) *steps.PublishResult {
	return &steps.PublishResult{
		Ref:      fmt.Sprintf("sha%d", n),
		Branch:   fmt.Sprintf("fuzagent/abcdef12-%d", n-1),
		Location: "https://github.com/acme/app/pull/7",
		Number:   7,
	}
}

func approved() *steps.ReviewVerdict {
	return &steps.ReviewVerdict{Approved: true, Summary: "looks good"}
}

func rejected(comment string) *steps.ReviewVerdict {
	return &steps.ReviewVerdict{Comments: []string{comment}, Summary: "needs work"}
}

var (
	pass    = ci.Outcome{Status: ci.StatusPass}
	fail    = ci.Outcome{Status: ci.StatusFail, Logs: "Check: test\nStatus: failure\nSummary: TestHandler failed"}
	timeout = ci.Outcome{Status: ci.StatusTimeout, Logs: "Pending checks: build"}
)

type harness struct {
	plan, reason, code, test, review, publish *fakeExecutor

	gateway *mockGateway
	store   *memory.Store
	cfg     Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		plan: returns(steps.StagePlan, planResult()),
		code: scripted(steps.StageCode, func(n int, _ steps.Input) (steps.Result, error) {
			return codeChange(n), nil
		}),
		review: returns(steps.StageReview, approved()),
		publish: scripted(steps.StagePublish, func(n int, _ steps.Input) (steps.Result, error) {
			return published(n), nil
		}),
		gateway: &mockGateway{},
		store:   memorytest.NewStore(t),
		cfg:     Config{MaxIterations: 5, EnableAutoFix: true, CITimeout: time.Second},
	}
}

func (h *harness) stages() Stages {
	s := Stages{Plan: h.plan, Code: h.code, Review: h.review, Publish: h.publish}
	if h.test != nil {
		s.Test = h.test
	}
	if h.reason != nil {
		s.Reason = h.reason
	}
	return s
}

func (h *harness) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(h.cfg, h.stages(), h.store, h.gateway, opts...)
	require.NoError(t, err)
	return o
}

// expectCI queues one CI outcome per call.
func (h *harness) expectCI(outcomes ...ci.Outcome) {
	for _, o := range outcomes {
		h.gateway.On("AwaitOutcome", mock.Anything, mock.Anything, h.cfg.CITimeout).Return(o, nil).Once()
	}
}

func (h *harness) records(t *testing.T, kind memory.Kind) []memory.Record {
	t.Helper()
	results, err := h.store.Search(context.Background(), testRequest, 50, "", memory.Filter{Kind: kind})
	require.NoError(t, err)
	recs := make([]memory.Record, len(results))
	for i, r := range results {
		recs[i] = r.Record
	}
	return recs
}

func stepError(stage steps.Stage) error {
	return &steps.StepExecutionError{Stage: stage, Cause: errors.New("reasoning capability unavailable")}
}
