package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/ci"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/steps"
)

// testLogTail is how much local test output is carried into the next
// Coding call.
const testLogTail = 2000

func (o *Orchestrator) planning(ctx context.Context, r *run) (Trigger, string, error) {
	res, err := o.execute(ctx, r, o.stages.Plan)
	if err != nil {
		return o.stageError(ctx, r, steps.StagePlan, err)
	}
	pr, ok := res.(*steps.PlanResult)
	if !ok {
		return o.stageError(ctx, r, steps.StagePlan, unexpected(steps.StagePlan, res))
	}

	if err := o.adoptPlan(ctx, r, pr.Plan); err != nil {
		return "", "", err
	}

	detail := fmt.Sprintf("%d steps", len(pr.Plan.Steps))
	if pr.Fallback {
		detail += " (fallback plan)"
	}
	if o.stages.Reason != nil {
		return TriggerReason, detail, nil
	}
	return TriggerPlanned, detail, nil
}

// adoptPlan stores plan and makes it the run's plan.
func (o *Orchestrator) adoptPlan(ctx context.Context, r *run, plan memory.Plan) error {
	if plan.UserRequest == "" {
		plan.UserRequest = r.request
	}
	if _, err := o.memory.PutPlan(ctx, plan, r.ns); err != nil {
		if !ignorable(err) {
			return fmt.Errorf("storing plan: %w", err)
		}
		o.logger.Warn(ctx, "plan not stored", zap.Error(err))
	}

	r.plan = &plan
	r.record(steps.StagePlan, memory.KindPlan, plan.UserRequest, plan.Text())
	for i, st := range plan.Steps {
		r.record(steps.StagePlan, memory.KindPlanStep, steps.PlanStepSubject(plan.UserRequest, i+1),
			fmt.Sprintf("Step %d: %s", i+1, st.Action))
	}
	return nil
}

// reasoning runs the optional Reason stage. Its failures do not count
// against the iteration budget; the run goes on to Coding without it.
func (o *Orchestrator) reasoning(ctx context.Context, r *run) (Trigger, string, error) {
	res, err := o.execute(ctx, r, o.stages.Reason)
	rr, ok := res.(*steps.ReasoningResult)
	if err == nil && !ok {
		err = unexpected(steps.StageReason, res)
	}
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return TriggerCanceled, context.Cause(ctx).Error(), nil
		case infrastructure(err):
			return "", "", err
		}
		o.logger.Warn(ctx, "reasoning skipped", zap.Error(err))
		return TriggerReasoned, "reasoning skipped: " + err.Error(), nil
	}

	r.record(steps.StageReason, memory.KindReasoningTrace, rr.Problem, rr.Text())
	detail := fmt.Sprintf("%s, confidence %.2f", rr.Type, rr.Confidence)
	if rr.ReplacesPlan() {
		if err := o.adoptPlan(ctx, r, *rr.Plan); err != nil {
			return "", "", err
		}
		detail += fmt.Sprintf(", plan replaced with %d steps", len(rr.Plan.Steps))
	}
	return TriggerReasoned, detail, nil
}

func (o *Orchestrator) coding(ctx context.Context, r *run) (Trigger, string, error) {
	res, err := o.execute(ctx, r, o.stages.Code)
	if err != nil {
		return o.stageError(ctx, r, steps.StageCode, err)
	}
	change, ok := res.(*steps.CodeChange)
	if !ok {
		return o.stageError(ctx, r, steps.StageCode, unexpected(steps.StageCode, res))
	}

	r.change, r.test = change, nil
	for _, f := range change.Files {
		verb := "Updated"
		if f.Created {
			verb = "Created"
		}
		r.record(steps.StageCode, memory.KindCode, f.Path, fmt.Sprintf("%s %s", verb, f.Path))
	}
	r.record(steps.StageCode, "", "", change.Summary)

	if o.stages.Test != nil {
		return TriggerVerify, change.Summary, nil
	}
	return TriggerCoded, change.Summary, nil
}

func (o *Orchestrator) testing(ctx context.Context, r *run) (Trigger, string, error) {
	res, err := o.execute(ctx, r, o.stages.Test)
	if err != nil {
		return o.stageError(ctx, r, steps.StageTest, err)
	}
	tr, ok := res.(*steps.TestResult)
	if !ok {
		return o.stageError(ctx, r, steps.StageTest, unexpected(steps.StageTest, res))
	}

	r.test = tr
	if tr.Passed {
		r.record(steps.StageTest, "", "", fmt.Sprintf("Tests passed: %s", tr.Command))
		return TriggerTested, tr.Summary, nil
	}

	errText, err := o.storePattern(ctx, r, steps.StageTest, fmt.Sprintf("Local tests failed (%s):\n%s", tr.Command, tr.Summary), "")
	if err != nil {
		return "", "", err
	}
	text := errText
	if logs := strings.TrimSpace(tr.Logs); logs != "" {
		text += "\n\nOutput:\n" + steps.Tail(logs, testLogTail)
	}
	r.record(steps.StageTest, memory.KindErrorPattern, errText, errText)
	return o.failTrigger(ctx, r, &Failure{Stage: steps.StageTest, Reason: ReasonTestsFailed, Text: text})
}

func (o *Orchestrator) reviewing(ctx context.Context, r *run) (Trigger, string, error) {
	res, err := o.execute(ctx, r, o.stages.Review)
	if err != nil {
		return o.stageError(ctx, r, steps.StageReview, err)
	}
	v, ok := res.(*steps.ReviewVerdict)
	if !ok {
		return o.stageError(ctx, r, steps.StageReview, unexpected(steps.StageReview, res))
	}

	r.record(steps.StageReview, memory.KindDecision, "reviewer", v.Text())
	if v.Approved {
		if blocked := o.checkGates(ctx, r); len(blocked) > 0 {
			return o.failTrigger(ctx, r, &Failure{
				Stage:  steps.StageReview,
				Reason: ReasonGateViolation,
				Text:   "Publishing blocked:\n" + describe(blocked),
			})
		}
		return TriggerApproved, v.Summary, nil
	}
	f := &Failure{Stage: steps.StageReview, Reason: ReasonReviewRejected, Text: v.Text()}
	if o.failed(ctx, r, f) {
		return TriggerExhausted, f.String(), nil
	}
	return TriggerRejected, f.String(), nil
}

// checkGates runs every gate and returns the blocking violations.
// Warnings go to the log and the run history.
func (o *Orchestrator) checkGates(ctx context.Context, r *run) []Violation {
	in := GateInput{Request: r.request, Change: r.change, Test: r.test}
	var all []Violation
	for _, g := range o.gates {
		all = append(all, g.Check(ctx, in)...)
	}
	for _, v := range all {
		o.logger.Warn(ctx, "gate violation",
			zap.String("gate", v.Gate),
			zap.String("severity", string(v.Severity)),
			zap.String("description", v.Description))
		r.record(steps.StageReview, "", "", v.String())
	}
	return blocking(all)
}

func (o *Orchestrator) publishing(ctx context.Context, r *run) (Trigger, string, error) {
	res, err := o.execute(ctx, r, o.stages.Publish)
	if err != nil {
		return o.stageError(ctx, r, steps.StagePublish, err)
	}
	p, ok := res.(*steps.PublishResult)
	if !ok {
		return o.stageError(ctx, r, steps.StagePublish, unexpected(steps.StagePublish, res))
	}

	r.published = p
	r.record(steps.StagePublish, "", "", fmt.Sprintf("Published %s as %s (commit %s)", p.Branch, p.Location, p.Ref))
	return TriggerPublished, p.Location, nil
}

func (o *Orchestrator) awaitingCI(ctx context.Context, r *run) (Trigger, string, error) {
	ref := r.published.Ref
	sctx, span := o.tracer.Start(ctx, "orchestrator.ci")
	start := time.Now()
	out, err := o.gateway.AwaitOutcome(sctx, ref, o.cfg.CITimeout)
	span.SetAttributes(attribute.String("ref", ref), attribute.String("status", string(out.Status)))
	span.End()
	outcome := string(out.Status)
	if err != nil {
		outcome = "error"
	}
	o.stageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("stage", string(steps.StageCI)),
		attribute.String("outcome", outcome)))

	if err != nil {
		return o.stageError(ctx, r, steps.StageCI, fmt.Errorf("awaiting CI for %s: %w", ref, err))
	}

	var (
		reason  Reason
		summary string
	)
	switch out.Status {
	case ci.StatusPass:
		r.record(steps.StageCI, "", "", fmt.Sprintf("CI passed for %s", ref))
		return TriggerCIPassed, ref, nil
	case ci.StatusTimeout:
		reason, summary = ReasonCITimeout, fmt.Sprintf("CI timed out after %s", o.cfg.CITimeout)
	default:
		reason, summary = ReasonCIFailed, "CI failed"
	}
	text := summary
	if logs := strings.TrimSpace(out.Logs); logs != "" {
		text += ":\n" + logs
	}

	errText, err := o.storePattern(ctx, r, steps.StageCI, text, "")
	if err != nil {
		return "", "", err
	}
	r.record(steps.StageCI, memory.KindErrorPattern, errText, text)
	return o.failTrigger(ctx, r, &Failure{Stage: steps.StageCI, Reason: reason, Text: text})
}
