package ci

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/ghclient"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/secrets"
)

// PollerConfig configures a Poller.
type PollerConfig struct {
	Repo     ghclient.Repo
	Interval time.Duration
	// EmptyPolls is how many consecutive polls without any check run
	// count as a pass.
	EmptyPolls int
	Retry      ghclient.RetryConfig
}

// Poller polls the check runs of a commit.
type Poller struct {
	gh       *github.Client
	cfg      PollerConfig
	scrubber secrets.Scrubber
	logger   *logging.Logger
	metrics  *Metrics
}

// NewPoller returns a Poller. nil scrubber, logger and metrics are
// replaced with no-op versions.
func NewPoller(gh *github.Client, cfg PollerConfig, scrubber secrets.Scrubber, logger *logging.Logger, metrics *Metrics) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.EmptyPolls <= 0 {
		cfg.EmptyPolls = 3
	}
	if scrubber == nil {
		scrubber = secrets.Noop()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Poller{gh: gh, cfg: cfg, scrubber: scrubber, logger: logger.Named("ci.poller"), metrics: metrics}
}

// AwaitOutcome polls immediately and then every interval until all check
// runs for ref completed or timeout elapses.
func (p *Poller) AwaitOutcome(ctx context.Context, ref string, timeout time.Duration) (Outcome, error) {
	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	empty := 0
	pending := ""
	for {
		runs, err := p.list(ctx, ref)
		var perm *permanentError
		switch {
		case ctx.Err() != nil:
			return Outcome{}, ctx.Err()
		case errors.As(err, &perm):
			return Outcome{}, fmt.Errorf("listing check runs for %s: %w", ref, perm.err)
		case err != nil:
			p.metrics.polls.WithLabelValues("error").Inc()
			p.logger.Warn(ctx, "polling check runs failed", zap.String("ref", ref), zap.Error(err))
		default:
			p.metrics.polls.WithLabelValues("ok").Inc()
			out, done, waiting := p.evaluate(runs, &empty)
			if done {
				p.observe(out, start)
				p.logger.Info(ctx, "CI completed", zap.String("ref", ref), zap.String("status", string(out.Status)), zap.Int("checks", len(runs)))
				return out, nil
			}
			pending = waiting
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-deadline.C:
			out := Outcome{Status: StatusTimeout, Logs: fmt.Sprintf("CI did not complete within %s", timeout)}
			if pending != "" {
				out.Logs += "\nPending checks: " + pending
			}
			p.observe(out, start)
			p.logger.Warn(ctx, "CI timed out", zap.String("ref", ref), zap.Duration("timeout", timeout))
			return out, nil
		case <-ticker.C:
		}
	}
}

// Check lists the check runs of ref once. done is false while any run is
// still in progress. It lets a Webhook confirm a pass against every app's
// checks.
func (p *Poller) Check(ctx context.Context, ref string) (Outcome, bool, error) {
	runs, err := p.list(ctx, ref)
	if err != nil {
		var perm *permanentError
		if errors.As(err, &perm) {
			err = perm.err
		}
		return Outcome{}, false, fmt.Errorf("listing check runs for %s: %w", ref, err)
	}
	// One empty listing is final.
	empty := p.cfg.EmptyPolls
	out, done, _ := p.evaluate(runs, &empty)
	return out, done, nil
}

func (p *Poller) observe(out Outcome, start time.Time) {
	p.metrics.outcomes.WithLabelValues("poll", string(out.Status)).Inc()
	p.metrics.awaitDuration.WithLabelValues("poll").Observe(time.Since(start).Seconds())
}

// evaluate decides whether runs are final. It returns the names of checks
// still running when not.
func (p *Poller) evaluate(runs []*github.CheckRun, empty *int) (Outcome, bool, string) {
	if len(runs) == 0 {
		*empty++
		if *empty >= p.cfg.EmptyPolls {
			return Outcome{Status: StatusPass}, true, ""
		}
		return Outcome{}, false, ""
	}
	*empty = 0

	var waiting, failed []string
	for _, run := range runs {
		if run.GetStatus() != "completed" {
			waiting = append(waiting, run.GetName())
			continue
		}
		if !passing(run.GetConclusion()) {
			failed = append(failed, checkLog(run))
		}
	}
	if len(waiting) > 0 {
		return Outcome{}, false, strings.Join(waiting, ", ")
	}
	if len(failed) > 0 {
		logs := p.scrubber.Scrub(strings.Join(failed, logSeparator)).Scrubbed
		return Outcome{Status: StatusFail, Logs: logs}, true, ""
	}
	return Outcome{Status: StatusPass}, true, ""
}

// list returns every check run for ref.
func (p *Poller) list(ctx context.Context, ref string) ([]*github.CheckRun, error) {
	var all []*github.CheckRun
	opts := &github.ListCheckRunsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var page *github.ListCheckRunsResults
		resp, err := ghclient.Retry(ctx, p.cfg.Retry, p.logger, func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			page, resp, err = p.gh.Checks.ListCheckRunsForRef(ctx, p.cfg.Repo.Owner, p.cfg.Repo.Name, ref, opts)
			return resp, err
		})
		if err != nil {
			if !ghclient.IsRetryable(err, resp) {
				return nil, &permanentError{err: err}
			}
			return nil, err
		}
		all = append(all, page.CheckRuns...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// permanentError marks API errors that polling again will not fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
