// Package vcs publishes changes: local branch and commit with go-git, push
// to the remote with token auth, and pull requests through the GitHub API.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/ghclient"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/logging"
)

var (
	// ErrNotRepository is returned when the workspace is not inside a git
	// repository.
	ErrNotRepository = errors.New("workspace is not a git repository")

	// ErrNoHost is returned by OpenChangeRequest when no GitHub client or
	// repository is configured.
	ErrNoHost = errors.New("no change request host configured")

	// ErrNothingToCommit is returned when none of the paths changed.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// ChangeRequest describes a pull request to open.
type ChangeRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// ChangeRequestResult identifies an opened pull request.
type ChangeRequestResult struct {
	Number int
	URL    string
}

// Config configures a Repository.
type Config struct {
	// Dir is the workspace; the repository is found at or above it.
	Dir         string
	Remote      string
	Token       config.Secret
	AuthorName  string
	AuthorEmail string
	// Repo is owner/name on GitHub.
	Repo  string
	Retry ghclient.RetryConfig
}

// ConfigFrom builds a Config from the GitHub section.
func ConfigFrom(dir string, gh config.GitHubConfig) Config {
	return Config{
		Dir:         dir,
		Remote:      gh.Remote,
		Token:       gh.Token,
		AuthorName:  gh.AuthorName,
		AuthorEmail: gh.AuthorEmail,
		Repo:        gh.Repo,
		Retry:       ghclient.RetryConfig{MaxRetries: gh.MaxRetries},
	}
}

// Repository publishes from a local working tree.
type Repository struct {
	repo   *git.Repository
	wt     *git.Worktree
	prefix string
	cfg    Config
	gh     *github.Client
	logger *logging.Logger
}

// Open opens the repository containing cfg.Dir. gh may be nil, in which
// case OpenChangeRequest fails with ErrNoHost.
func Open(cfg Config, gh *github.Client, logger *logging.Logger) (*Repository, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Remote == "" {
		cfg.Remote = git.DefaultRemoteName
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotRepository, abs, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRepository, err)
	}
	root, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return nil, fmt.Errorf("resolving worktree: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	prefix, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	return &Repository{repo: repo, wt: wt, prefix: filepath.ToSlash(prefix), cfg: cfg, gh: gh, logger: logger.Named("vcs")}, nil
}

// CurrentBranch returns the short name of the checked out branch, or "" on
// a detached HEAD.
func (r *Repository) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return "", nil
}

// CreateBranch checks out name at HEAD, creating it if needed. Uncommitted
// changes are kept.
func (r *Repository) CreateBranch(ctx context.Context, name string) error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("reading HEAD: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(name)
	opts := &git.CheckoutOptions{Branch: ref, Keep: true}
	if _, err := r.repo.Reference(ref, true); errors.Is(err, plumbing.ErrReferenceNotFound) {
		opts.Create = true
		opts.Hash = head.Hash()
	} else if err != nil {
		return fmt.Errorf("looking up branch %s: %w", name, err)
	}
	if err := r.wt.Checkout(opts); err != nil {
		return fmt.Errorf("checking out %s: %w", name, err)
	}
	r.logger.Debug(ctx, "checked out branch", zap.String("branch", name), zap.Bool("created", opts.Create))
	return nil
}

// Commit stages paths, given relative to the workspace, and commits them.
// It returns the commit SHA.
func (r *Repository) Commit(ctx context.Context, message string, paths []string) (string, error) {
	for _, p := range paths {
		if _, err := r.wt.Add(r.repoPath(p)); err != nil {
			return "", fmt.Errorf("staging %s: %w", p, err)
		}
	}
	status, err := r.wt.Status()
	if err != nil {
		return "", fmt.Errorf("reading status: %w", err)
	}
	staged := false
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return "", ErrNothingToCommit
	}

	hash, err := r.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: r.cfg.AuthorName, Email: r.cfg.AuthorEmail, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	r.logger.Info(ctx, "committed", zap.String("sha", hash.String()), zap.Int("files", len(paths)))
	return hash.String(), nil
}

func (r *Repository) repoPath(p string) string {
	p = filepath.ToSlash(p)
	if r.prefix == "." || r.prefix == "" {
		return p
	}
	return path.Join(r.prefix, p)
}

// Push pushes branch to the configured remote. An up-to-date remote is not
// an error.
func (r *Repository) Push(ctx context.Context, branch string) error {
	spec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	opts := &git.PushOptions{RemoteName: r.cfg.Remote, RefSpecs: []gitconfig.RefSpec{spec}}
	if r.cfg.Token.IsSet() {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: r.cfg.Token.Value()}
	}
	err := r.repo.PushContext(ctx, opts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pushing %s to %s: %w", branch, r.cfg.Remote, err)
	}
	r.logger.Info(ctx, "pushed branch", zap.String("branch", branch), zap.String("remote", r.cfg.Remote))
	return nil
}

// OpenChangeRequest opens a pull request, or returns the open one for the
// same head branch.
func (r *Repository) OpenChangeRequest(ctx context.Context, req ChangeRequest) (*ChangeRequestResult, error) {
	if r.gh == nil || r.cfg.Repo == "" {
		return nil, ErrNoHost
	}
	repo, err := ghclient.ParseRepo(r.cfg.Repo)
	if err != nil {
		return nil, err
	}

	var pr *github.PullRequest
	resp, err := ghclient.Retry(ctx, r.cfg.Retry, r.logger, func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = r.gh.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
			Title:               github.String(req.Title),
			Head:                github.String(req.Head),
			Base:                github.String(req.Base),
			Body:                github.String(req.Body),
			MaintainerCanModify: github.Bool(true),
		})
		return resp, err
	})
	if ghclient.StatusCode(resp) == http.StatusUnprocessableEntity {
		existing, lerr := r.findOpen(ctx, repo, req.Head)
		if lerr == nil && existing != nil {
			r.logger.Info(ctx, "pull request already open", zap.Int("number", existing.GetNumber()))
			pr, err = existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening pull request for %s: %w", req.Head, err)
	}
	r.logger.Info(ctx, "opened pull request", zap.Int("number", pr.GetNumber()), zap.String("url", pr.GetHTMLURL()))
	return &ChangeRequestResult{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

func (r *Repository) findOpen(ctx context.Context, repo ghclient.Repo, head string) (*github.PullRequest, error) {
	var prs []*github.PullRequest
	_, err := ghclient.Retry(ctx, r.cfg.Retry, r.logger, func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		prs, resp, err = r.gh.PullRequests.List(ctx, repo.Owner, repo.Name, &github.PullRequestListOptions{
			State: "open",
			Head:  repo.Owner + ":" + strings.TrimPrefix(head, "refs/heads/"),
		})
		return resp, err
	})
	if err != nil || len(prs) == 0 {
		return nil, err
	}
	return prs[0], nil
}
