package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/steps"
)

const (
	// patternLength matches the store's default string attribute limit so
	// that history subjects equal the stored error_text.
	patternLength = 500

	abortConfidence   = 0.1
	orchestratorAgent = "orchestrator"
)

func ignorable(err error) bool {
	var ve *memory.ValidationError
	return errors.As(err, &ve)
}

// put stores a record tagged with the run and the latest published commit.
// Invalid records are logged and dropped.
func (o *Orchestrator) put(ctx context.Context, r *run, stage steps.Stage, kind memory.Kind, content string, attrs memory.Attributes) error {
	attrs["run_id"] = r.id
	attrs["stage"] = string(stage)
	attrs["iteration"] = r.iteration
	attrs["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if r.published != nil {
		attrs["ref"] = r.published.Ref
	}
	if _, err := o.memory.Put(ctx, kind, content, attrs, r.ns); err != nil {
		if ignorable(err) {
			o.logger.Warn(ctx, "record dropped", zap.String("kind", string(kind)), zap.Error(err))
			return nil
		}
		return fmt.Errorf("storing %s: %w", kind, err)
	}
	return nil
}

// storePattern stores an error_pattern and returns its error_text. An
// empty fix marks the pattern as the run's open failure.
func (o *Orchestrator) storePattern(ctx context.Context, r *run, stage steps.Stage, failure, fix string) (string, error) {
	errText := steps.Clip(strings.TrimSpace(failure), patternLength)
	shown := fix
	if shown == "" {
		shown = "no confirmed fix"
	}
	err := o.put(ctx, r, stage, memory.KindErrorPattern,
		fmt.Sprintf("Error: %s\nFix: %s", errText, shown),
		memory.Attributes{
			"error_text": errText,
			"fix_text":   fix,
		})
	if err != nil {
		return "", err
	}
	if fix == "" {
		r.pattern = errText
	}
	return errText, nil
}

// finish persists what a terminal run leaves behind. Failures here are
// logged; the run's outcome stands.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	var err error
	switch {
	case r.state == StateSucceeded:
		err = o.persistSuccess(ctx, r)
	case r.cause == CauseExhausted:
		err = o.persistAbort(ctx, r)
	default:
		return
	}
	if err != nil {
		o.logger.Error(ctx, "run outcome not stored", zap.Error(err))
	}
}

// persistSuccess confirms the last error pattern with the change that
// fixed it and records the run as a decision.
func (o *Orchestrator) persistSuccess(ctx context.Context, r *run) error {
	summary := ""
	if r.change != nil {
		summary = r.change.Summary
	}
	if r.pattern != "" && summary != "" {
		if _, err := o.storePattern(ctx, r, steps.StageCI, r.pattern, summary); err != nil {
			return err
		}
		r.pattern = ""
	}

	decision := fmt.Sprintf("Run succeeded after %d failed iterations", r.iteration)
	history := renderHistory(r.history)
	return o.put(ctx, r, steps.StageCI, memory.KindDecision,
		fmt.Sprintf("Decision: %s\nRequest: %s\nHistory:\n%s", decision, r.request, history),
		memory.Attributes{
			"agent":         orchestratorAgent,
			"decision_text": decision,
			"context_text":  r.request,
		})
}

// persistAbort stores a low-confidence reasoning trace so later runs can
// recognize the unsolved problem.
func (o *Orchestrator) persistAbort(ctx context.Context, r *run) error {
	last := "unknown"
	if r.last != nil {
		last = r.last.String()
	}
	conclusion := fmt.Sprintf("No fix found after %d iterations. Last failure: %s", r.iteration, last)
	return o.put(ctx, r, steps.StageCI, memory.KindReasoningTrace,
		fmt.Sprintf("Problem: %s\nConclusion: %s", r.request, conclusion),
		memory.Attributes{
			"reasoning_type":  "failure_analysis",
			"problem_text":    r.request,
			"conclusion_text": conclusion,
			"confidence":      abortConfidence,
			"step_count":      r.iteration,
		})
}

func renderHistory(history []steps.HistoryEntry) string {
	var b strings.Builder
	for _, h := range history {
		fmt.Fprintf(&b, "[iteration %d, %s] %s\n", h.Iteration, h.Stage, steps.Clip(h.Text, 200))
	}
	return b.String()
}
