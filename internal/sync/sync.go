package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/revsync/internal/git"
	"github.com/schaermu/revsync/internal/invalidate"
	"github.com/schaermu/revsync/internal/revision"
)

// Result summarizes one cache-refresh cycle
type Result struct {
	// Skipped is set when the resolver had nothing to do (no repository or directory configured)
	Skipped bool
	// Cloned is set when the cycle performed the initial clone
	Cloned bool
	// UpToDate is set when the checkout revision matched the recorded one
	UpToDate bool
	Revision string
	Previous string
	Full     bool
	Paths    []string
}

// Engine drives the clone/update, diff, invalidate, save cycle for one repository.
// Cycles for the same local directory must not run concurrently.
type Engine struct {
	resolver    *revision.Resolver
	runner      git.Runner
	invalidator invalidate.Invalidator
	logger      *slog.Logger
	dryRun      bool
}

// NewEngine creates a new sync engine
func NewEngine(resolver *revision.Resolver, runner git.Runner, invalidator invalidate.Invalidator, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		resolver:    resolver,
		runner:      runner,
		invalidator: invalidator,
		logger:      logger,
		dryRun:      dryRun,
	}
}

// Run executes one complete cycle. The revision marker is only written after
// the invalidator succeeded.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	opts := e.resolver.Options()
	e.logger.Info("starting sync",
		"repo", opts.RepositoryURL,
		"dir", opts.LocalDirectory,
		"dry_run", e.dryRun)

	result := &Result{}

	// Fetch or update the checkout
	cloned, skipped, err := e.checkout(ctx, opts.LocalDirectory)
	if err != nil {
		return nil, err
	}
	if skipped {
		e.logger.Info("repository not configured, nothing to do")
		result.Skipped = true
		return result, nil
	}
	result.Cloned = cloned

	// Resolve the checkout revision
	cmd, err := e.resolver.CurrentStateCommand()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current state command: %w", err)
	}
	out, err := e.runner.Run(ctx, opts.LocalDirectory, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to read current revision: %w", err)
	}
	result.Revision = strings.TrimSpace(out)
	e.logger.Info("repository checked out", "revision", result.Revision)

	// Load the last synchronized revision
	previous, ok, err := e.resolver.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to load revision marker: %w", err)
	}
	result.Previous = previous
	result.Full = !ok
	if ok && previous == result.Revision {
		e.logger.Info("cache already synchronized", "revision", result.Revision)
		result.UpToDate = true
		return result, nil
	}

	// Collect the changed paths
	cmd, err = e.resolver.GetUpdatesListCommand()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve updates list command: %w", err)
	}
	out, err = e.runner.Run(ctx, opts.LocalDirectory, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed paths: %w", err)
	}
	result.Paths = splitLines(out)

	e.logger.Info("change set",
		"previous", result.Previous,
		"revision", result.Revision,
		"full", result.Full,
		"changed", len(result.Paths))

	// check for dry-run mode
	if e.dryRun {
		for _, p := range result.Paths {
			e.logger.Info("[dry-run] would invalidate", "path", p)
		}
		e.logger.Info("dry-run complete, cache and marker untouched")
		return result, nil
	}

	if err := e.invalidator.Invalidate(ctx, invalidate.ChangeSet{
		Revision: result.Revision,
		Previous: result.Previous,
		Full:     result.Full,
		Paths:    result.Paths,
	}); err != nil {
		return nil, fmt.Errorf("failed to invalidate cache: %w", err)
	}

	if err := e.resolver.SaveState(result.Revision); err != nil {
		return nil, fmt.Errorf("failed to save state: %w", err)
	}

	e.logger.Info("sync completed", "revision", result.Revision)
	return result, nil
}

// checkout clones the repository when dir holds no clone yet and pulls
// otherwise. skipped is set when the resolver has nothing to do.
func (e *Engine) checkout(ctx context.Context, dir string) (cloned, skipped bool, err error) {
	cloned = !isClone(dir)

	var cmd git.Command
	if cloned {
		cmd, err = e.resolver.FetchCommand()
	} else {
		cmd, err = e.resolver.UpdateCommand()
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to resolve checkout command: %w", err)
	}
	if cmd == nil {
		return false, true, nil
	}

	if cloned {
		// Ensure the parent of the clone target exists
		if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
			return false, false, fmt.Errorf("failed to create parent directory: %w", err)
		}
		e.logger.Info("cloning repository", "dest", dir)
		if _, err := e.runner.Run(ctx, "", cmd); err != nil {
			return false, false, fmt.Errorf("failed to clone repository: %w", err)
		}
	} else {
		e.logger.Info("updating repository", "dir", dir)
		if _, err := e.runner.Run(ctx, dir, cmd); err != nil {
			return false, false, fmt.Errorf("failed to update repository: %w", err)
		}
	}

	return cloned, false, nil
}

// isClone reports whether dir already contains a git checkout
func isClone(dir string) bool {
	if dir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// splitLines returns the non-empty lines of command output
func splitLines(out string) []string {
	lines := strings.Split(out, "\n")
	paths := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths
}
