package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/reasoning"
)

// DefaultTimeout bounds a stage when Deps.Timeout is unset.
const DefaultTimeout = 5 * time.Minute

// Memory is the subset of *memory.Store the executors use.
type Memory interface {
	Put(ctx context.Context, kind memory.Kind, content string, attrs memory.Attributes, namespace string) (string, error)
	Search(ctx context.Context, query string, topK int, namespace string, filter memory.Filter) ([]memory.Result, error)
}

// Deps are shared by all executors.
type Deps struct {
	LLM    reasoning.Capability
	Memory Memory
	Logger *logging.Logger
	// Timeout bounds one Execute call.
	Timeout time.Duration
	// ContextResults is how many records each retrieval returns.
	ContextResults int
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.ContextResults <= 0 {
		d.ContextResults = 5
	}
	return d
}

// guard runs fn under the stage timeout and sorts its error: memory
// infrastructure errors and cancellation of the run itself pass through,
// everything else becomes a StepExecutionError.
func (d Deps) guard(ctx context.Context, stage Stage, fn func(context.Context) (Result, error)) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = logging.WithStage(ctx, string(stage))
	sctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	start := time.Now()
	res, err := fn(sctx)
	if err == nil {
		d.Logger.Debug(ctx, "stage completed", zap.String("stage", string(stage)), zap.Duration("duration", time.Since(start)))
		return res, nil
	}

	var (
		nf  *memory.NotFoundError
		ce  *memory.CapacityError
		see *StepExecutionError
	)
	switch {
	case errors.As(err, &nf), errors.As(err, &ce):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(sctx.Err(), context.DeadlineExceeded):
		err = &StepExecutionError{Stage: stage, Cause: fmt.Errorf("%w after %s", ErrStageTimeout, d.Timeout)}
	case errors.As(err, &see):
	default:
		err = &StepExecutionError{Stage: stage, Cause: err}
	}
	d.Logger.Warn(ctx, "stage failed", zap.String("stage", string(stage)), zap.Error(err))
	return nil, err
}

// retrieve searches memory for focus text. Only infrastructure errors are
// returned.
func (d Deps) retrieve(ctx context.Context, in Input, focus string, filter memory.Filter) ([]memory.Record, error) {
	results, err := d.Memory.Search(ctx, focus, d.ContextResults, in.Namespace, filter)
	if err != nil {
		if ignorable(err) {
			d.Logger.Debug(ctx, "context retrieval skipped", zap.Error(err))
			return nil, nil
		}
		return nil, err
	}
	recs := make([]memory.Record, len(results))
	for i, r := range results {
		recs[i] = r.Record
	}
	return recs, nil
}

// put stores a record tagged with the run. Invalid records are logged and
// dropped.
func (d Deps) put(ctx context.Context, in Input, stage Stage, kind memory.Kind, content string, attrs memory.Attributes) error {
	attrs["run_id"] = in.RunID
	attrs["stage"] = string(stage)
	attrs["iteration"] = in.Iteration
	attrs["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if _, err := d.Memory.Put(ctx, kind, content, attrs, in.Namespace); err != nil {
		if ignorable(err) {
			d.Logger.Warn(ctx, "record dropped", zap.String("kind", string(kind)), zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// remember stores a decision record for the stage.
func (d Deps) remember(ctx context.Context, in Input, stage Stage, agent, decision, reason string) error {
	return d.put(ctx, in, stage, memory.KindDecision,
		fmt.Sprintf("Decision: %s\nContext: %s", decision, reason),
		memory.Attributes{
			"agent":         agent,
			"decision_text": decision,
			"context_text":  reason,
		})
}

func ignorable(err error) bool {
	var ve *memory.ValidationError
	return errors.As(err, &ve)
}

func (d Deps) invoke(ctx context.Context, stage Stage, prompt string) (string, error) {
	out, err := d.LLM.Invoke(ctx, string(stage), prompt)
	if err != nil {
		return "", fmt.Errorf("invoking reasoning: %w", err)
	}
	return out, nil
}
