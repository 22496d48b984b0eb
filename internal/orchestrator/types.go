package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/steps"
)

// State is a run state.
type State string

const (
	StatePlanning   State = "planning"
	StateReasoning  State = "reasoning"
	StateCoding     State = "coding"
	StateTesting    State = "testing"
	StateReviewing  State = "reviewing"
	StatePublishing State = "publishing"
	StateAwaitingCI State = "awaiting_ci"
	StateFixLoop    State = "fix_loop"
	StateSucceeded  State = "succeeded"
	StateAborted    State = "aborted"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateAborted
}

// Trigger is what moves a run from one state to the next.
type Trigger string

const (
	TriggerPlanned    Trigger = "planned"
	TriggerReason     Trigger = "reason"
	TriggerReasoned   Trigger = "reasoned"
	TriggerCoded      Trigger = "coded"
	TriggerVerify     Trigger = "verify"
	TriggerTested     Trigger = "tested"
	TriggerApproved   Trigger = "approved"
	TriggerRejected   Trigger = "rejected"
	TriggerPublished  Trigger = "published"
	TriggerCIPassed   Trigger = "ci_passed"
	TriggerFailed     Trigger = "failed"
	TriggerExhausted  Trigger = "exhausted"
	TriggerRetry      Trigger = "retry"
	TriggerReplan     Trigger = "replan"
	TriggerCanceled   Trigger = "canceled"
	TriggerInfraError Trigger = "infrastructure_error"
)

// transitions is the complete state machine. A trigger missing from a
// state's row is a bug in the orchestrator.
var transitions = map[State]map[Trigger]State{
	StatePlanning: {
		TriggerPlanned:   StateCoding,
		TriggerReason:    StateReasoning,
		TriggerFailed:    StateFixLoop,
		TriggerExhausted: StateAborted,
	},
	StateReasoning: {
		TriggerReasoned: StateCoding,
	},
	StateCoding: {
		TriggerCoded:     StateReviewing,
		TriggerVerify:    StateTesting,
		TriggerFailed:    StateFixLoop,
		TriggerExhausted: StateAborted,
	},
	StateTesting: {
		TriggerTested:    StateReviewing,
		TriggerFailed:    StateFixLoop,
		TriggerExhausted: StateAborted,
	},
	StateReviewing: {
		TriggerApproved:  StatePublishing,
		TriggerRejected:  StateCoding,
		TriggerFailed:    StateFixLoop,
		TriggerExhausted: StateAborted,
	},
	StatePublishing: {
		TriggerPublished: StateAwaitingCI,
		TriggerFailed:    StateFixLoop,
		TriggerExhausted: StateAborted,
	},
	StateAwaitingCI: {
		TriggerCIPassed:  StateSucceeded,
		TriggerFailed:    StateFixLoop,
		TriggerExhausted: StateAborted,
	},
	StateFixLoop: {
		TriggerRetry:  StateCoding,
		TriggerReplan: StatePlanning,
		TriggerReason: StateReasoning,
	},
}

func init() {
	for _, row := range transitions {
		row[TriggerCanceled] = StateAborted
		row[TriggerInfraError] = StateAborted
	}
}

// next returns the state trigger t leads to from s.
func next(s State, t Trigger) (State, error) {
	to, ok := transitions[s][t]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, t)
	}
	return to, nil
}

// Cause says why a run ended in StateAborted.
type Cause string

const (
	CauseNone           Cause = ""
	CauseExhausted      Cause = "exhausted"
	CauseCanceled       Cause = "canceled"
	CauseInfrastructure Cause = "infrastructure"
)

// Reason classifies a failed iteration.
type Reason string

const (
	ReasonCIFailed       Reason = "ci_failed"
	ReasonCITimeout      Reason = "ci_timeout"
	ReasonTestsFailed    Reason = "tests_failed"
	ReasonReviewRejected Reason = "review_rejected"
	ReasonGateViolation  Reason = "gate_violation"
	ReasonStageError     Reason = "stage_error"
)

// Failure is the cause of a failed iteration.
type Failure struct {
	Iteration int
	Stage     steps.Stage
	Reason    Reason
	Text      string
}

func (f *Failure) String() string {
	return fmt.Sprintf("%s in %s stage: %s", f.Reason, f.Stage, f.Text)
}

// Report is the result of a run.
type Report struct {
	RunID      string
	Request    string
	FinalState State
	Cause      Cause
	// Iterations is the number of failed iterations consumed.
	Iterations    int
	MaxIterations int
	LastFailure   *Failure
	// ChangeRef is the last published commit.
	ChangeRef string
	Branch    string
	Location  string
	History   []steps.HistoryEntry
	Duration  time.Duration
}

// Succeeded reports whether the run reached StateSucceeded.
func (r *Report) Succeeded() bool { return r.FinalState == StateSucceeded }

// Summary is the user-facing outcome of the run.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s", r.RunID, r.FinalState)
	if r.Cause != CauseNone {
		fmt.Fprintf(&b, " (%s)", r.Cause)
	}
	fmt.Fprintf(&b, "\niterations: %d/%d", r.Iterations, r.MaxIterations)
	if r.Location != "" {
		fmt.Fprintf(&b, "\nchange: %s", r.Location)
	}
	if r.ChangeRef != "" {
		fmt.Fprintf(&b, "\ncommit: %s", r.ChangeRef)
	}
	if r.LastFailure != nil {
		fmt.Fprintf(&b, "\nlast failure: %s", r.LastFailure)
	}
	return b.String()
}
