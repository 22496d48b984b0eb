package main

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/ci"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/events"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/ghclient"
	httpserver "github.com/Fuzyal234/Fuz-AgenticAI/internal/http"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/orchestrator"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/reasoning"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/steps"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/vcs"
)

// pipeline is a wired orchestrator plus whatever must be stopped with it.
type pipeline struct {
	orch    *orchestrator.Orchestrator
	cleanup []func()
}

func (p *pipeline) close() {
	for i := len(p.cleanup) - 1; i >= 0; i-- {
		p.cleanup[i]()
	}
}

// newPipeline wires the step executors, CI gateway and event sink around
// store. On error everything opened so far is released.
func newPipeline(ctx context.Context, a *app, store *memory.Store) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			p.close()
		}
	}()
	cfg := a.cfg

	llm, err := reasoning.New(cfg.LLM, a.logger.Named("reasoning"))
	if err != nil {
		return nil, err
	}
	ws, err := steps.NewWorkspace(cfg.Pipeline.Workspace)
	if err != nil {
		return nil, err
	}

	var gh *github.Client
	if cfg.GitHub.Token.IsSet() {
		if gh, err = ghclient.New(ctx, cfg.GitHub.Token, cfg.GitHub.APIURL); err != nil {
			return nil, fmt.Errorf("creating GitHub client: %w", err)
		}
	}
	repo, err := vcs.Open(vcs.ConfigFrom(ws.Root(), cfg.GitHub), gh, a.logger.Named("vcs"))
	if err != nil {
		return nil, err
	}

	deps := steps.Deps{
		LLM:            llm,
		Memory:         store,
		Logger:         a.logger.Named("steps"),
		Timeout:        cfg.Pipeline.StageTimeout.Duration(),
		ContextResults: cfg.Memory.ContextResults,
	}
	stages := orchestrator.Stages{
		Plan:    steps.NewPlanner(deps),
		Code:    steps.NewCoder(deps, ws),
		Review:  steps.NewReviewer(deps),
		Publish: steps.NewPublisher(deps, repo, cfg.GitHub.BaseBranch),
	}
	if cfg.Pipeline.EnableLRM {
		rdeps := deps
		if m := cfg.LLM.ReasoningModel; m != "" && m != cfg.LLM.Model {
			lcfg := cfg.LLM
			lcfg.Model = m
			if rdeps.LLM, err = reasoning.New(lcfg, a.logger.Named("reasoning.lrm")); err != nil {
				return nil, err
			}
		}
		stages.Reason = steps.NewReasoner(rdeps)
	}
	if cfg.Pipeline.TestCommand != "" {
		stages.Test = steps.NewTester(deps, steps.TesterConfig{
			Command: cfg.Pipeline.TestCommand,
			Allowed: cfg.Pipeline.AllowedCommands,
			Dir:     ws.Root(),
		}, steps.ExecRunner{}, a.scrubber)
	}

	gateway, err := p.gateway(ctx, a, gh)
	if err != nil {
		return nil, err
	}
	pub, err := p.events(a)
	if err != nil {
		return nil, err
	}

	p.orch, err = orchestrator.New(
		orchestrator.ConfigFrom(cfg.Pipeline, cfg.CI, cfg.Memory.Namespace),
		stages, store, gateway,
		orchestrator.WithLogger(a.logger.Named("orchestrator")),
		orchestrator.WithEvents(pub),
		orchestrator.WithMeter(a.tel.Meter("github.com/Fuzyal234/Fuz-AgenticAI/orchestrator")),
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// gateway returns the CI gateway for ci.mode. Webhook mode starts the
// receiver in the background for the lifetime of the pipeline.
func (p *pipeline) gateway(ctx context.Context, a *app, gh *github.Client) (ci.Gateway, error) {
	cfg := a.cfg
	switch cfg.CI.Mode {
	case "poll", "":
		if gh == nil {
			return nil, fmt.Errorf("ci.mode poll: %w", ghclient.ErrTokenNotSet)
		}
		repo, err := ghclient.ParseRepo(cfg.GitHub.Repo)
		if err != nil {
			return nil, err
		}
		return newPoller(a, gh, repo), nil
	case "webhook":
		var opts []ci.WebhookOption
		if gh != nil {
			repo, err := ghclient.ParseRepo(cfg.GitHub.Repo)
			if err != nil {
				return nil, err
			}
			opts = append(opts, ci.WithVerifier(newPoller(a, gh, repo)))
		}
		srv, wh, err := newWebhookServer(a, opts...)
		if err != nil {
			return nil, err
		}
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Run(sctx); err != nil {
				a.logger.Error(sctx, "webhook server stopped", zap.Error(err))
			}
		}()
		p.cleanup = append(p.cleanup, func() {
			cancel()
			<-done
		})
		return wh, nil
	default:
		return nil, fmt.Errorf("unknown ci.mode %q", cfg.CI.Mode)
	}
}

func newPoller(a *app, gh *github.Client, repo ghclient.Repo) *ci.Poller {
	return ci.NewPoller(gh, ci.PollerConfig{
		Repo:       repo,
		Interval:   a.cfg.CI.PollInterval.Duration(),
		EmptyPolls: a.cfg.CI.EmptyPolls,
		Retry:      ghclient.RetryConfig{MaxRetries: a.cfg.GitHub.MaxRetries},
	}, a.scrubber, a.logger, nil)
}

// events returns the NATS publisher when events.nats_url is set.
func (p *pipeline) events(a *app) (events.Publisher, error) {
	if a.cfg.Events.NATSURL == "" {
		return events.Noop{}, nil
	}
	pub, err := events.Connect(a.cfg.Events.NATSURL, a.cfg.Events.Subject, a.logger.Named("events"))
	if err != nil {
		return nil, err
	}
	p.cleanup = append(p.cleanup, func() {
		if err := pub.Close(); err != nil {
			a.logger.Warn(context.Background(), "closing event publisher", zap.Error(err))
		}
	})
	return pub, nil
}

// newWebhookServer builds the HTTP server with the CI webhook mounted and
// the CI metrics registered on its /metrics registry.
func newWebhookServer(a *app, opts ...ci.WebhookOption) (*httpserver.Server, *ci.Webhook, error) {
	reg := prometheus.NewRegistry()
	opts = append([]ci.WebhookOption{ci.WithSettle(a.cfg.CI.WebhookSettle.Duration())}, opts...)
	wh := ci.NewWebhook(a.cfg.CI.WebhookSecret, a.scrubber, a.logger, ci.NewMetrics(reg), opts...)
	srv, err := httpserver.NewServer(httpserver.Config{
		Addr:      a.cfg.CI.WebhookAddr,
		RateLimit: a.cfg.CI.RateLimit,
	}, a.logger.Named("http"), reg)
	if err != nil {
		return nil, nil, err
	}
	srv.HandleWebhook(wh.Handle)
	return srv, wh, nil
}
