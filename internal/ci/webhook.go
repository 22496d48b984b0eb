package ci

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/secrets"
)

const (
	maxPayloadBytes = 1 << 20
	// maxRetained bounds the commits tracked while nobody waits on them.
	maxRetained = 1024
	// DefaultSettle is how long a passing commit must stay quiet before
	// the pass is delivered.
	DefaultSettle = 10 * time.Second
)

var validSHARegex = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Verifier re-reads every check of a commit. done is false while checks
// are still running.
type Verifier interface {
	Check(ctx context.Context, ref string) (out Outcome, done bool, err error)
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithSettle sets the quiet period a passing commit waits for further
// suites before the pass is delivered.
func WithSettle(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithVerifier confirms every pass against v before returning it.
func WithVerifier(v Verifier) WebhookOption {
	return func(w *Webhook) { w.verifier = v }
}

// suiteState is the last known state of one check suite.
type suiteState struct {
	app        string
	branch     string
	completed  bool
	conclusion string
}

// commitState aggregates every suite and check run seen for a head SHA.
// GitHub creates one suite per app, so a single passing suite says nothing
// about the others.
type commitState struct {
	suites   map[string]suiteState
	runs     map[string]*github.CheckRun
	settle   *time.Timer
	gen      int
	resolved *Outcome
}

func newCommitState() *commitState {
	return &commitState{suites: make(map[string]suiteState), runs: make(map[string]*github.CheckRun)}
}

// Webhook receives GitHub check_suite and check_run deliveries and hands
// outcomes to waiters keyed by head SHA. Outcomes that resolve before
// anyone waits are retained.
type Webhook struct {
	secret   config.Secret
	scrubber secrets.Scrubber
	logger   *logging.Logger
	metrics  *Metrics
	settle   time.Duration
	verifier Verifier

	mu      sync.Mutex
	waiters map[string][]chan Outcome
	commits map[string]*commitState
}

// NewWebhook returns a receiver validating deliveries against secret.
func NewWebhook(secret config.Secret, scrubber secrets.Scrubber, logger *logging.Logger, metrics *Metrics, opts ...WebhookOption) *Webhook {
	if scrubber == nil {
		scrubber = secrets.Noop()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	w := &Webhook{
		secret:   secret,
		scrubber: scrubber,
		logger:   logger.Named("ci.webhook"),
		metrics:  metrics,
		settle:   DefaultSettle,
		waiters:  make(map[string][]chan Outcome),
		commits:  make(map[string]*commitState),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle is the echo handler for POST /webhook.
func (w *Webhook) Handle(c echo.Context) error {
	ctx := c.Request().Context()
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, maxPayloadBytes)

	eventType := github.WebHookType(r)
	payload, err := github.ValidatePayload(r, []byte(w.secret.Value()))
	if err != nil {
		w.metrics.events.WithLabelValues(eventType, "unauthorized").Inc()
		w.logger.Warn(ctx, "invalid webhook signature", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		w.metrics.events.WithLabelValues(eventType, "invalid").Inc()
		w.logger.Warn(ctx, "failed to parse webhook", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	result := "ignored"
	switch e := event.(type) {
	case *github.CheckSuiteEvent:
		suite := e.GetCheckSuite()
		if !validSHARegex.MatchString(suite.GetHeadSHA()) {
			w.metrics.events.WithLabelValues(eventType, "invalid").Inc()
			return echo.NewHTTPError(http.StatusBadRequest, "invalid head SHA")
		}
		w.update(ctx, suite.GetHeadSHA(), func(st *commitState) {
			st.suites[suiteKey(suite)] = suiteState{
				app:        suite.GetApp().GetName(),
				branch:     suite.GetHeadBranch(),
				completed:  e.GetAction() == "completed" || suite.GetStatus() == "completed",
				conclusion: suite.GetConclusion(),
			}
		})
		result = "recorded"
	case *github.CheckRunEvent:
		run := e.GetCheckRun()
		if !validSHARegex.MatchString(run.GetHeadSHA()) {
			w.metrics.events.WithLabelValues(eventType, "invalid").Inc()
			return echo.NewHTTPError(http.StatusBadRequest, "invalid head SHA")
		}
		w.update(ctx, run.GetHeadSHA(), func(st *commitState) {
			st.runs[runKey(run)] = run
		})
		result = "recorded"
	case *github.PingEvent:
		result = "ping"
	default:
		w.logger.Debug(ctx, "ignoring event type", zap.String("type", eventType))
	}
	w.metrics.events.WithLabelValues(eventType, result).Inc()
	return c.JSON(http.StatusOK, map[string]string{"status": result})
}

func suiteKey(s *github.CheckSuite) string {
	switch {
	case s.GetID() != 0:
		return strconv.FormatInt(s.GetID(), 10)
	case s.GetApp().GetID() != 0:
		return "app:" + strconv.FormatInt(s.GetApp().GetID(), 10)
	default:
		return "app:" + s.GetApp().GetName()
	}
}

func runKey(r *github.CheckRun) string {
	if r.GetID() != 0 {
		return strconv.FormatInt(r.GetID(), 10)
	}
	return "name:" + r.GetName()
}

// update applies fn to the state of sha and re-evaluates it. A failure is
// delivered at once; a pass only after the commit stayed quiet for the
// settle period.
func (w *Webhook) update(ctx context.Context, sha string, fn func(*commitState)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.commits[sha]
	if !ok {
		if len(w.commits) >= maxRetained {
			w.evictLocked()
		}
		st = newCommitState()
		w.commits[sha] = st
	}
	fn(st)
	st.gen++
	if st.settle != nil {
		st.settle.Stop()
		st.settle = nil
	}

	st.resolved = nil
	out, final := w.evaluate(st)
	switch {
	case !final:
	case out.Status == StatusFail:
		w.logger.Info(ctx, "commit failed CI", zap.String("sha", sha), zap.Int("suites", len(st.suites)), zap.Int("runs", len(st.runs)))
		w.resolveLocked(sha, st, out)
	default:
		gen := st.gen
		st.settle = time.AfterFunc(w.settle, func() { w.settled(sha, gen) })
	}
}

// settled delivers a pass once no event arrived for sha since gen.
func (w *Webhook) settled(sha string, gen int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.commits[sha]
	if !ok || st.gen != gen {
		return
	}
	st.settle = nil
	if out, final := w.evaluate(st); final {
		w.logger.Info(context.Background(), "commit passed CI", zap.String("sha", sha), zap.Int("suites", len(st.suites)))
		w.resolveLocked(sha, st, out)
	}
}

// evaluate folds every known suite and run into an outcome. Any failing
// check wins; a pass needs at least one completed suite and nothing still
// running.
func (w *Webhook) evaluate(st *commitState) (Outcome, bool) {
	var failed []string
	pending := false
	for _, run := range st.runs {
		switch {
		case run.GetStatus() != "completed":
			pending = true
		case !passing(run.GetConclusion()):
			failed = append(failed, checkLog(run))
		}
	}
	if len(failed) == 0 {
		for _, s := range st.suites {
			if s.completed && !passing(s.conclusion) {
				failed = append(failed, fmt.Sprintf("Check suite: %s\nStatus: %s\nBranch: %s", s.app, s.conclusion, s.branch))
			}
		}
	}
	if len(failed) > 0 {
		slices.Sort(failed)
		return Outcome{Status: StatusFail, Logs: w.scrubber.Scrub(strings.Join(failed, logSeparator)).Scrubbed}, true
	}

	completed := 0
	for _, s := range st.suites {
		if !s.completed {
			pending = true
		} else {
			completed++
		}
	}
	if pending || completed == 0 {
		return Outcome{}, false
	}
	return Outcome{Status: StatusPass}, true
}

// resolveLocked hands out to the waiters of sha, or retains it.
func (w *Webhook) resolveLocked(sha string, st *commitState, out Outcome) {
	if ws := w.waiters[sha]; len(ws) > 0 {
		for _, ch := range ws {
			ch <- out
		}
		delete(w.waiters, sha)
		delete(w.commits, sha)
		return
	}
	st.resolved = &out
}

// evictLocked drops commits nobody waits on, or everything if all are
// awaited.
func (w *Webhook) evictLocked() {
	for sha, st := range w.commits {
		if len(w.waiters[sha]) == 0 {
			if st.settle != nil {
				st.settle.Stop()
			}
			delete(w.commits, sha)
		}
	}
}

// AwaitOutcome waits until CI for ref resolves. With a verifier, a pass
// is confirmed by re-reading every check; checks still running put the
// waiter back until the next resolution.
func (w *Webhook) AwaitOutcome(ctx context.Context, ref string, timeout time.Duration) (Outcome, error) {
	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		ch := make(chan Outcome, 1)
		w.mu.Lock()
		if st, ok := w.commits[ref]; ok && st.resolved != nil {
			ch <- *st.resolved
			delete(w.commits, ref)
		} else {
			w.waiters[ref] = append(w.waiters[ref], ch)
		}
		w.mu.Unlock()

		var out Outcome
		select {
		case out = <-ch:
		case <-timer.C:
			w.drop(ref, ch)
			out = Outcome{Status: StatusTimeout, Logs: fmt.Sprintf("no CI outcome for %s within %s", ref, timeout)}
			w.observe(out, start)
			return out, nil
		case <-ctx.Done():
			w.drop(ref, ch)
			return Outcome{}, ctx.Err()
		}

		if out.Status == StatusPass && w.verifier != nil {
			vout, done, err := w.verifier.Check(ctx, ref)
			switch {
			case ctx.Err() != nil:
				return Outcome{}, ctx.Err()
			case err != nil:
				w.logger.Warn(ctx, "verifying webhook pass failed, trusting webhook", zap.String("ref", ref), zap.Error(err))
			case !done:
				w.logger.Debug(ctx, "checks still running after webhook pass", zap.String("ref", ref))
				continue
			default:
				out = vout
			}
		}
		w.observe(out, start)
		return out, nil
	}
}

func (w *Webhook) observe(out Outcome, start time.Time) {
	w.metrics.outcomes.WithLabelValues("webhook", string(out.Status)).Inc()
	w.metrics.awaitDuration.WithLabelValues("webhook").Observe(time.Since(start).Seconds())
}

func (w *Webhook) drop(ref string, ch chan Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws := w.waiters[ref]
	for i, c := range ws {
		if c == ch {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(w.waiters, ref)
	} else {
		w.waiters[ref] = ws
	}
}
