package ci

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/ghclient"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/secrets"
)

const testSHA = "0123456789abcdef0123456789abcdef01234567"

// checkServer answers check run listings with pages[i] on the i-th poll,
// repeating the last page afterwards.
func checkServer(t *testing.T, pages ...string) (*github.Client, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/hello/commits/"+testSHA+"/check-runs", r.URL.Path)
		n := int(polls.Add(1)) - 1
		if n >= len(pages) {
			n = len(pages) - 1
		}
		if pages[n] == "500" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if pages[n] == "404" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(pages[n]))
	}))
	t.Cleanup(srv.Close)
	c := github.NewClient(nil)
	require.NoError(t, ghclient.SetBaseURL(c, srv.URL))
	return c, &polls
}

func runs(items ...string) string {
	return fmt.Sprintf(`{"total_count": %d, "check_runs": [%s]}`, len(items), strings.Join(items, ","))
}

func run(name, status, conclusion string) string {
	return fmt.Sprintf(`{"name": %q, "status": %q, "conclusion": %q, "html_url": "https://ci.example/%s",
		"output": {"summary": "%s summary"}}`, name, status, conclusion, name, name)
}

type tokenScrubber struct{}

func (tokenScrubber) Scrub(s string) *secrets.Result {
	return &secrets.Result{Scrubbed: strings.ReplaceAll(s, "ghp_secret", "[REDACTED]")}
}

func testPoller(gh *github.Client) *Poller {
	return NewPoller(gh, PollerConfig{
		Repo:       ghclient.Repo{Owner: "octo", Name: "hello"},
		Interval:   5 * time.Millisecond,
		EmptyPolls: 3,
		Retry:      ghclient.RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}, tokenScrubber{}, nil, nil)
}

func TestPollerAwaitOutcome(t *testing.T) {
	tests := []struct {
		name      string
		pages     []string
		timeout   time.Duration
		want      Status
		wantPolls int32
		wantLogs  []string
	}{
		{
			name:      "all passing",
			pages:     []string{runs(run("build", "completed", "success"), run("lint", "completed", "skipped"))},
			timeout:   time.Second,
			want:      StatusPass,
			wantPolls: 1,
		},
		{
			name: "waits for pending",
			pages: []string{
				runs(run("build", "in_progress", "")),
				runs(run("build", "completed", "success")),
			},
			timeout:   time.Second,
			want:      StatusPass,
			wantPolls: 2,
		},
		{
			name: "failure logs",
			pages: []string{runs(
				run("build", "completed", "success"),
				run("test", "completed", "failure"),
				run("ghp_secret", "completed", "timed_out"),
			)},
			timeout:   time.Second,
			want:      StatusFail,
			wantPolls: 1,
			wantLogs:  []string{"Check: test\nStatus: failure\nURL: https://ci.example/test\nSummary: test summary", "Check: [REDACTED]"},
		},
		{
			name:      "no checks passes after grace polls",
			pages:     []string{runs()},
			timeout:   time.Second,
			want:      StatusPass,
			wantPolls: 3,
		},
		{
			name:      "transient errors are retried",
			pages:     []string{"500", "500", runs(run("build", "completed", "success"))},
			timeout:   time.Second,
			want:      StatusPass,
			wantPolls: 3,
		},
		{
			name:     "timeout",
			pages:    []string{runs(run("build", "queued", ""))},
			timeout:  30 * time.Millisecond,
			want:     StatusTimeout,
			wantLogs: []string{"Pending checks: build"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh, polls := checkServer(t, tt.pages...)
			out, err := testPoller(gh).AwaitOutcome(context.Background(), testSHA, tt.timeout)
			require.NoError(t, err)

			assert.Equal(t, tt.want, out.Status)
			for _, l := range tt.wantLogs {
				assert.Contains(t, out.Logs, l)
			}
			assert.NotContains(t, out.Logs, "ghp_secret")
			if tt.wantPolls > 0 {
				assert.Equal(t, tt.wantPolls, polls.Load())
			}
		})
	}
}

func TestPollerCheck(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		want     Status
		wantDone bool
		wantErr  bool
	}{
		{name: "every app passed", page: runs(run("build", "completed", "success"), run("deploy", "completed", "neutral")), want: StatusPass, wantDone: true},
		{name: "one app failed", page: runs(run("build", "completed", "success"), run("unit", "completed", "failure")), want: StatusFail, wantDone: true},
		{name: "still running", page: runs(run("build", "completed", "success"), run("unit", "in_progress", ""))},
		{name: "no checks", page: runs(), want: StatusPass, wantDone: true},
		{name: "not found", page: "404", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gh, polls := checkServer(t, tt.page)
			out, done, err := testPoller(gh).Check(context.Background(), testSHA)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDone, done)
			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, int32(1), polls.Load())
		})
	}
}

func TestPollerPermanentError(t *testing.T) {
	gh, polls := checkServer(t, "404")
	_, err := testPoller(gh).AwaitOutcome(context.Background(), testSHA, time.Second)
	assert.Error(t, err)
	assert.Equal(t, int32(1), polls.Load())
}

func TestPollerCanceled(t *testing.T) {
	gh, _ := checkServer(t, runs(run("build", "queued", "")))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := testPoller(gh).AwaitOutcome(ctx, testSHA, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutcomeErr(t *testing.T) {
	assert.NoError(t, Outcome{Status: StatusPass}.Err())

	var te *TimeoutError
	assert.ErrorAs(t, Outcome{Status: StatusTimeout}.Err(), &te)

	err := Outcome{Status: StatusFail, Logs: "Check: test"}.Err()
	assert.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, err.Error(), "Check: test")
}
