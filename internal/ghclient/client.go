// Package ghclient builds authenticated GitHub clients and retries their
// calls on rate limits and transient failures.
package ghclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
)

var (
	// ErrTokenNotSet is returned when no token is configured.
	ErrTokenNotSet = errors.New("GitHub token not set")

	// ErrInvalidRepo is returned for repository names not of the form
	// owner/name.
	ErrInvalidRepo = errors.New("invalid repository")
)

// validNameRegex matches GitHub owner and repository names.
var validNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,99}$`)

// New returns a client authenticated with token. A non-empty baseURL
// replaces the public API endpoint.
func New(ctx context.Context, token config.Secret, baseURL string) (*github.Client, error) {
	if !token.IsSet() {
		return nil, ErrTokenNotSet
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL != "" {
		if err := SetBaseURL(client, baseURL); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// SetBaseURL points client at baseURL.
func SetBaseURL(client *github.Client, baseURL string) error {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("parsing GitHub base URL: %w", err)
	}
	client.BaseURL = u
	return nil
}

// Repo identifies a repository.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// ParseRepo parses "owner/name".
func ParseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || !validNameRegex.MatchString(owner) || !validNameRegex.MatchString(name) {
		return Repo{}, fmt.Errorf("%w: %q (expected owner/name)", ErrInvalidRepo, s)
	}
	return Repo{Owner: owner, Name: name}, nil
}
