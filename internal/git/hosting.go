package git

import (
	"errors"
	"fmt"
	"strings"
)

// GitHubPrefix is the URL prefix handled by the built-in GitHub strategy
const GitHubPrefix = "https://github.com/"

// ErrUnsupportedRepository is matched by every UnsupportedRepositoryError
var ErrUnsupportedRepository = errors.New("unsupported repository")

// UnsupportedRepositoryError reports a repository URL that no registered
// hosting strategy knows how to handle. A dedicated strategy has to be
// registered for that kind of remote.
type UnsupportedRepositoryError struct {
	URL string
}

func (e *UnsupportedRepositoryError) Error() string {
	return fmt.Sprintf("do not know how to handle this repository: %s", e.URL)
}

// Is lets errors.Is match ErrUnsupportedRepository
func (e *UnsupportedRepositoryError) Is(target error) bool {
	return target == ErrUnsupportedRepository
}

// RemoteHostingStrategy produces the clone, pull and revision commands for
// repositories hosted under a given convention.
type RemoteHostingStrategy interface {
	// Name identifies the strategy in logs
	Name() string
	// Supports reports whether the strategy handles url
	Supports(url string) bool
	// CloneCommand clones url into dir
	CloneCommand(url, dir string) Command
	// PullCommand updates a clone; it runs inside the clone directory
	PullCommand() Command
	// RevisionCommand prints the short revision of HEAD; it runs inside the clone directory
	RevisionCommand() Command
}

// GitHubStrategy handles public HTTPS GitHub repositories with the git CLI
type GitHubStrategy struct{}

func (GitHubStrategy) Name() string { return "github" }

func (GitHubStrategy) Supports(url string) bool {
	return strings.HasPrefix(url, GitHubPrefix)
}

func (GitHubStrategy) CloneCommand(url, dir string) Command {
	return Command{"git", "clone", url, dir}
}

func (GitHubStrategy) PullCommand() Command {
	return Command{"git", "pull"}
}

func (GitHubStrategy) RevisionCommand() Command {
	return Command{"git", "rev-parse", "--short", "HEAD"}
}

// Registry dispatches repository URLs to hosting strategies.
// Strategies are consulted in registration order; the first match wins.
type Registry struct {
	strategies []RemoteHostingStrategy
}

// NewRegistry creates a registry holding the given strategies
func NewRegistry(strategies ...RemoteHostingStrategy) *Registry {
	return &Registry{strategies: append([]RemoteHostingStrategy(nil), strategies...)}
}

// DefaultRegistry returns a registry that only knows GitHub
func DefaultRegistry() *Registry {
	return NewRegistry(GitHubStrategy{})
}

// Register appends a strategy. Registration is not safe for concurrent use
// with Lookup; build the registry before handing it out.
func (r *Registry) Register(s RemoteHostingStrategy) {
	r.strategies = append(r.strategies, s)
}

// Lookup returns the strategy for url or an *UnsupportedRepositoryError
func (r *Registry) Lookup(url string) (RemoteHostingStrategy, error) {
	for _, s := range r.strategies {
		if s.Supports(url) {
			return s, nil
		}
	}
	return nil, &UnsupportedRepositoryError{URL: url}
}
