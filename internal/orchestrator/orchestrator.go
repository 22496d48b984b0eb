package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/ci"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/events"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/steps"
)

const instrumentationName = "github.com/Fuzyal234/Fuz-AgenticAI/internal/orchestrator"

// DefaultCITimeout bounds AwaitOutcome when Config.CITimeout is unset.
const DefaultCITimeout = 300 * time.Second

var (
	// ErrInvalidTransition means the state machine was driven with a
	// trigger its current state does not accept.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrEmptyRequest is returned by Run for a blank request.
	ErrEmptyRequest = errors.New("empty request")
)

// Memory is the subset of *memory.Store the orchestrator writes to.
type Memory interface {
	Put(ctx context.Context, kind memory.Kind, content string, attrs memory.Attributes, namespace string) (string, error)
	PutPlan(ctx context.Context, p memory.Plan, namespace string) ([]string, error)
}

// Stages holds the executor for each stage. Test is optional; without it
// the run goes from Coding straight to Reviewing. Reason is optional too;
// with it every plan and every retry after a failure is reasoned about
// before Coding.
type Stages struct {
	Plan    steps.Executor
	Reason  steps.Executor
	Code    steps.Executor
	Test    steps.Executor
	Review  steps.Executor
	Publish steps.Executor
}

// Config controls a run.
type Config struct {
	// MaxIterations is the number of failed iterations after which the
	// run aborts.
	MaxIterations int
	// EnableAutoFix off means the first failure aborts the run.
	EnableAutoFix bool
	Namespace     string
	CITimeout     time.Duration
}

// ConfigFrom builds a Config from the pipeline and CI sections.
func ConfigFrom(p config.PipelineConfig, c config.CIConfig, namespace string) Config {
	return Config{
		MaxIterations: p.MaxIterations,
		EnableAutoFix: p.EnableAutoFix,
		Namespace:     namespace,
		CITimeout:     c.Timeout.Duration(),
	}
}

// budget is the effective iteration limit.
func (c Config) budget() int {
	if !c.EnableAutoFix || c.MaxIterations < 1 {
		return 1
	}
	return c.MaxIterations
}

// ProgressCallback receives every state transition.
type ProgressCallback func(events.Event)

// Orchestrator drives runs through the state machine. It holds no run
// state, so one Orchestrator can serve concurrent runs.
type Orchestrator struct {
	cfg      Config
	stages   Stages
	memory   Memory
	gateway  ci.Gateway
	gates    []Gate
	events   events.Publisher
	logger   *logging.Logger
	progress ProgressCallback
	meter    metric.Meter
	tracer   trace.Tracer

	runs          metric.Int64Counter
	iterations    metric.Int64Histogram
	stageDuration metric.Float64Histogram
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEvents sets the sink for state transitions.
func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.events = p
		}
	}
}

// WithGates replaces DefaultGates.
func WithGates(gates ...Gate) Option {
	return func(o *Orchestrator) { o.gates = gates }
}

// WithMeter overrides the global OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) { o.meter = m }
}

// New creates an Orchestrator. Every stage but Test is required.
func New(cfg Config, stages Stages, mem Memory, gateway ci.Gateway, opts ...Option) (*Orchestrator, error) {
	switch {
	case stages.Plan == nil, stages.Code == nil, stages.Review == nil, stages.Publish == nil:
		return nil, errors.New("plan, code, review and publish executors are required")
	case mem == nil:
		return nil, errors.New("memory is required")
	case gateway == nil:
		return nil, errors.New("CI gateway is required")
	}
	if cfg.CITimeout <= 0 {
		cfg.CITimeout = DefaultCITimeout
	}

	o := &Orchestrator{
		cfg:     cfg,
		stages:  stages,
		memory:  mem,
		gateway: gateway,
		gates:   DefaultGates(),
		events:  events.Noop{},
		logger:  logging.NewNop(),
		meter:   otel.Meter(instrumentationName),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")

	var err error
	if o.runs, err = o.meter.Int64Counter("fuzagent.runs_total",
		metric.WithDescription("Finished runs by final state")); err != nil {
		return nil, fmt.Errorf("runs counter: %w", err)
	}
	if o.iterations, err = o.meter.Int64Histogram("fuzagent.run.iterations",
		metric.WithDescription("Failed iterations consumed per run")); err != nil {
		return nil, fmt.Errorf("iterations histogram: %w", err)
	}
	if o.stageDuration, err = o.meter.Float64Histogram("fuzagent.stage.duration_seconds",
		metric.WithDescription("Stage latency by stage and outcome"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("stage duration histogram: %w", err)
	}
	return o, nil
}

// OnProgress sets the progress callback.
func (o *Orchestrator) OnProgress(cb ProgressCallback) {
	o.progress = cb
}

// run is the state of one request. It is owned by the goroutine in Run.
type run struct {
	id      string
	request string
	ns      string
	state   State
	cause   Cause

	iteration int
	budget    int
	history   []steps.HistoryEntry

	plan      *memory.Plan
	change    *steps.CodeChange
	test      *steps.TestResult
	published *steps.PublishResult
	last      *Failure
	// pattern is the error_text of the latest unresolved error pattern.
	pattern string
}

func (r *run) input() steps.Input {
	in := steps.Input{
		RunID:       r.id,
		Iteration:   r.iteration,
		Namespace:   r.ns,
		UserRequest: r.request,
		Plan:        r.plan,
		Change:      r.change,
		History:     slices.Clone(r.history),
	}
	if r.last != nil && r.last.Stage != steps.StagePlan {
		in.Failure = r.last.Text
	}
	return in
}

func (r *run) record(stage steps.Stage, kind memory.Kind, subject, text string) {
	r.history = append(r.history, steps.HistoryEntry{
		Iteration: r.iteration,
		Stage:     stage,
		Kind:      kind,
		Subject:   subject,
		Text:      text,
	})
}

// Run drives request to a terminal state. The returned error is non-nil
// only when the memory store failed (*memory.NotFoundError,
// *memory.CapacityError) or the state machine was misused; the report is
// returned in every case but ErrEmptyRequest.
func (o *Orchestrator) Run(ctx context.Context, request string) (*Report, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, ErrEmptyRequest
	}
	r := &run{
		id:      uuid.NewString(),
		request: request,
		ns:      o.cfg.Namespace,
		state:   StatePlanning,
		budget:  o.cfg.budget(),
	}

	ctx = logging.WithRunID(ctx, r.id)
	if r.ns != "" {
		ctx = logging.WithNamespace(ctx, r.ns)
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.Run")
	defer span.End()

	start := time.Now()
	o.logger.Info(ctx, "run started",
		zap.String("request", steps.Clip(request, 120)),
		zap.Int("max_iterations", r.budget))

	var runErr error
	for !r.state.Terminal() {
		var (
			t      Trigger
			detail string
			err    error
		)
		if ctx.Err() == nil {
			t, detail, err = o.step(ctx, r)
		}
		switch {
		case err == nil && t != "":
		case ctx.Err() != nil:
			t, detail = TriggerCanceled, context.Cause(ctx).Error()
		default:
			if err == nil {
				err = fmt.Errorf("%w: no trigger from %s", ErrInvalidTransition, r.state)
			}
			t, detail, runErr = TriggerInfraError, err.Error(), err
		}
		if err := o.transition(ctx, r, t, detail); err != nil {
			runErr = errors.Join(runErr, err)
			r.state, r.cause = StateAborted, CauseInfrastructure
		}
	}

	o.finish(ctx, r)

	attrs := metric.WithAttributes(
		attribute.String("final_state", string(r.state)),
		attribute.String("cause", string(r.cause)))
	o.runs.Add(ctx, 1, attrs)
	o.iterations.Record(ctx, int64(r.iteration), attrs)
	span.SetAttributes(
		attribute.String("run.id", r.id),
		attribute.String("final_state", string(r.state)),
		attribute.Int("iterations", r.iteration))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}

	rep := &Report{
		RunID:         r.id,
		Request:       r.request,
		FinalState:    r.state,
		Cause:         r.cause,
		Iterations:    r.iteration,
		MaxIterations: r.budget,
		LastFailure:   r.last,
		History:       r.history,
		Duration:      time.Since(start),
	}
	if p := r.published; p != nil {
		rep.ChangeRef, rep.Branch, rep.Location = p.Ref, p.Branch, p.Location
	}
	o.logger.Info(ctx, "run finished",
		zap.String("final_state", string(r.state)),
		zap.String("cause", string(r.cause)),
		zap.Int("iterations", r.iteration),
		zap.Duration("duration", rep.Duration))
	return rep, runErr
}

// step runs the work of the current state and returns the trigger it
// produced. An error ends the run.
func (o *Orchestrator) step(ctx context.Context, r *run) (Trigger, string, error) {
	switch r.state {
	case StatePlanning:
		return o.planning(ctx, r)
	case StateReasoning:
		return o.reasoning(ctx, r)
	case StateCoding:
		return o.coding(ctx, r)
	case StateTesting:
		return o.testing(ctx, r)
	case StateReviewing:
		return o.reviewing(ctx, r)
	case StatePublishing:
		return o.publishing(ctx, r)
	case StateAwaitingCI:
		return o.awaitingCI(ctx, r)
	case StateFixLoop:
		switch {
		case r.plan == nil:
			return TriggerReplan, "", nil
		case o.stages.Reason != nil:
			return TriggerReason, "", nil
		}
		return TriggerRetry, "", nil
	}
	return "", "", fmt.Errorf("%w: no handler for state %s", ErrInvalidTransition, r.state)
}

func (o *Orchestrator) transition(ctx context.Context, r *run, t Trigger, detail string) error {
	to, err := next(r.state, t)
	if err != nil {
		return err
	}
	ev := events.Event{
		RunID:     r.id,
		From:      string(r.state),
		To:        string(to),
		Trigger:   string(t),
		Iteration: r.iteration,
		Detail:    steps.Clip(detail, 500),
		Time:      time.Now().UTC(),
	}
	o.logger.Info(ctx, "state transition",
		zap.String("from", ev.From),
		zap.String("to", ev.To),
		zap.String("trigger", ev.Trigger),
		zap.Int("iteration", r.iteration))

	r.state = to
	switch t {
	case TriggerCanceled:
		r.cause = CauseCanceled
	case TriggerInfraError:
		r.cause = CauseInfrastructure
	case TriggerExhausted:
		r.cause = CauseExhausted
	}

	if err := o.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.Warn(ctx, "event not published", zap.Error(err))
	}
	if o.progress != nil {
		o.progress(ev)
	}
	return nil
}

// execute runs one stage executor under a span and records its latency.
func (o *Orchestrator) execute(ctx context.Context, r *run, ex steps.Executor) (steps.Result, error) {
	stage := string(ex.Stage())
	ctx, span := o.tracer.Start(ctx, "orchestrator."+stage)
	defer span.End()
	span.SetAttributes(attribute.Int("iteration", r.iteration))

	start := time.Now()
	res, err := ex.Execute(ctx, r.input())
	if err == nil && res == nil {
		err = fmt.Errorf("%s stage returned no result", stage)
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.stageDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome)))
	return res, err
}

// failed counts a failed iteration and reports whether the budget is
// exhausted.
func (o *Orchestrator) failed(ctx context.Context, r *run, f *Failure) bool {
	f.Iteration = r.iteration
	r.iteration++
	r.last = f
	exhausted := r.iteration >= r.budget
	o.logger.Warn(ctx, "iteration failed",
		zap.String("stage", string(f.Stage)),
		zap.String("reason", string(f.Reason)),
		zap.Int("iteration", r.iteration),
		zap.Int("max_iterations", r.budget),
		zap.Bool("exhausted", exhausted))
	return exhausted
}

// failTrigger counts the failure and picks between FixLoop and Aborted.
func (o *Orchestrator) failTrigger(ctx context.Context, r *run, f *Failure) (Trigger, string, error) {
	if o.failed(ctx, r, f) {
		return TriggerExhausted, f.String(), nil
	}
	return TriggerFailed, f.String(), nil
}

// stageError sorts an executor error. Memory infrastructure errors end the
// run; anything else is a failed iteration.
func (o *Orchestrator) stageError(ctx context.Context, r *run, stage steps.Stage, err error) (Trigger, string, error) {
	if ctx.Err() != nil {
		return TriggerCanceled, context.Cause(ctx).Error(), nil
	}
	if infrastructure(err) {
		return "", "", err
	}
	return o.failTrigger(ctx, r, &Failure{Stage: stage, Reason: ReasonStageError, Text: err.Error()})
}

func infrastructure(err error) bool {
	var (
		nf *memory.NotFoundError
		ce *memory.CapacityError
	)
	return errors.As(err, &nf) || errors.As(err, &ce)
}

func unexpected(stage steps.Stage, res steps.Result) error {
	return fmt.Errorf("%s stage returned %T", stage, res)
}
