// Package revision computes the git commands needed to keep a local clone in
// sync and tracks the last revision whose changes reached the cache.
//
// The resolver never executes anything. Concurrent cache cycles against the
// same local directory race on the marker file; callers must serialize them.
package revision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/schaermu/revsync/internal/git"
)

// MarkerFile is the name of the file inside the local directory that stores
// the last cache-synchronized revision
const MarkerFile = ".cached_revision"

// ErrNoLocalDirectory is returned when the marker is written without a local directory
var ErrNoLocalDirectory = errors.New("local repository directory is not configured")

// Options configures a Resolver. Empty strings mean "not configured".
type Options struct {
	RepositoryURL  string
	LocalDirectory string
}

// Option customizes a Resolver
type Option func(*Resolver)

// WithRegistry replaces the default hosting registry
func WithRegistry(r *git.Registry) Option {
	return func(res *Resolver) {
		res.registry = r
	}
}

// Resolver derives fetch, update and diff commands for one repository
type Resolver struct {
	opts     Options
	registry *git.Registry
}

// New creates a resolver for opts. Without options only GitHub URLs are supported.
func New(opts Options, options ...Option) *Resolver {
	r := &Resolver{
		opts:     opts,
		registry: git.DefaultRegistry(),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Options returns the configuration the resolver was created with
func (r *Resolver) Options() Options {
	return r.opts
}

// FetchCommand returns the command performing the initial clone.
// It returns nil when the repository URL or the local directory is not configured.
func (r *Resolver) FetchCommand() (git.Command, error) {
	if r.opts.RepositoryURL == "" {
		return nil, nil
	}

	strategy, err := r.registry.Lookup(r.opts.RepositoryURL)
	if err != nil {
		return nil, err
	}

	if r.opts.LocalDirectory == "" {
		return nil, nil
	}

	return strategy.CloneCommand(r.opts.RepositoryURL, r.opts.LocalDirectory), nil
}

// UpdateCommand returns the command pulling the latest changes.
// It runs with the local directory as working directory.
func (r *Resolver) UpdateCommand() (git.Command, error) {
	strategy, err := r.strategy()
	if strategy == nil || err != nil {
		return nil, err
	}
	return strategy.PullCommand(), nil
}

// CurrentStateCommand returns the command printing the short revision of the checkout.
// It runs with the local directory as working directory.
func (r *Resolver) CurrentStateCommand() (git.Command, error) {
	strategy, err := r.strategy()
	if strategy == nil || err != nil {
		return nil, err
	}
	return strategy.RevisionCommand(), nil
}

// strategy applies the guards shared by update and current-state: nothing
// to do without a URL or a local directory, otherwise the hosting lookup.
func (r *Resolver) strategy() (git.RemoteHostingStrategy, error) {
	if r.opts.RepositoryURL == "" || r.opts.LocalDirectory == "" {
		return nil, nil
	}
	return r.registry.Lookup(r.opts.RepositoryURL)
}

// MarkerPath returns the location of the marker file, or "" without a local directory
func (r *Resolver) MarkerPath() string {
	if r.opts.LocalDirectory == "" {
		return ""
	}
	return filepath.Join(r.opts.LocalDirectory, MarkerFile)
}

// SaveState records state as the last cache-synchronized revision.
// Call it only once the cache work for state is complete, otherwise a
// revision is marked as processed before its effects are cached.
func (r *Resolver) SaveState(state string) error {
	path := r.MarkerPath()
	if path == "" {
		return ErrNoLocalDirectory
	}
	if err := os.WriteFile(path, []byte(state), 0644); err != nil {
		return fmt.Errorf("failed to save revision marker: %w", err)
	}
	return nil
}

// GetState returns the recorded revision. ok is false when none has been
// recorded yet, which is the normal first-run condition.
func (r *Resolver) GetState() (state string, ok bool, err error) {
	path := r.MarkerPath()
	if path == "" {
		return "", false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read revision marker: %w", err)
	}
	return string(data), true, nil
}

// GetUpdatesListCommand returns the command listing the paths to invalidate:
// every tracked path when no revision is recorded, otherwise the paths
// changed between the recorded revision and HEAD.
func (r *Resolver) GetUpdatesListCommand() (git.Command, error) {
	state, ok, err := r.GetState()
	if err != nil {
		return nil, err
	}
	if !ok {
		return git.Command{"git", "ls-tree", "--full-tree", "-r", "--name-only", "HEAD"}, nil
	}
	return git.Command{"git", "diff", "--name-only", state, "HEAD"}, nil
}
