// Package ci reports the outcome of CI for a pushed commit. A Poller asks
// the GitHub checks API; a Webhook receives check_suite events. Both
// implement Gateway.
package ci

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
)

// Status is the normalized CI result.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusTimeout Status = "timeout"
)

// ErrFailed is wrapped by Outcome.Err for failed runs.
var ErrFailed = errors.New("CI failed")

// Outcome is the result of waiting for CI on a ref.
type Outcome struct {
	Status Status
	// Logs describe failing checks; empty on pass.
	Logs string
}

// Err returns nil on pass, *TimeoutError on timeout and an error wrapping
// ErrFailed on failure.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusPass:
		return nil
	case StatusTimeout:
		return &TimeoutError{Logs: o.Logs}
	default:
		if o.Logs == "" {
			return ErrFailed
		}
		return fmt.Errorf("%w:\n%s", ErrFailed, o.Logs)
	}
}

// TimeoutError reports CI that did not finish in time.
type TimeoutError struct {
	Ref   string
	After time.Duration
	Logs  string
}

func (e *TimeoutError) Error() string {
	if e.Ref == "" {
		return "CI timed out"
	}
	return fmt.Sprintf("CI for %s did not complete within %s", e.Ref, e.After)
}

// Gateway waits for the CI outcome of a commit. It returns an error only
// when ctx ends or CI cannot be queried at all; a timeout is an Outcome.
type Gateway interface {
	AwaitOutcome(ctx context.Context, ref string, timeout time.Duration) (Outcome, error)
}

// passing reports whether a completed conclusion counts as success.
func passing(conclusion string) bool {
	switch conclusion {
	case "success", "neutral", "skipped":
		return true
	}
	return false
}

// checkLog renders one check for the failure logs.
func checkLog(run *github.CheckRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Check: %s\nStatus: %s\nURL: %s", run.GetName(), run.GetConclusion(), run.GetHTMLURL())
	if out := run.GetOutput(); out != nil {
		if s := out.GetSummary(); s != "" {
			fmt.Fprintf(&b, "\nSummary: %s", s)
		}
		if s := out.GetText(); s != "" {
			fmt.Fprintf(&b, "\n%s", s)
		}
	}
	return b.String()
}

const logSeparator = "\n\n"
