package invalidate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ChangeSet describes the repository paths whose cache entries are stale
type ChangeSet struct {
	// Revision is the checkout revision the cache is being synchronized to
	Revision string
	// Previous is the last synchronized revision, empty on a full resync
	Previous string
	// Full is set when no previous revision was recorded and Paths lists every tracked file
	Full bool
	// Paths are relative to the repository root
	Paths []string
}

// Invalidator drops cache entries for changed paths
type Invalidator interface {
	Invalidate(ctx context.Context, changes ChangeSet) error
}

// WriterInvalidator writes changed paths to a writer, one per line
type WriterInvalidator struct {
	w io.Writer
}

// NewWriterInvalidator creates an invalidator printing to w
func NewWriterInvalidator(w io.Writer) *WriterInvalidator {
	return &WriterInvalidator{w: w}
}

// Invalidate writes every path followed by a newline
func (i *WriterInvalidator) Invalidate(_ context.Context, changes ChangeSet) error {
	bw := bufio.NewWriter(i.w)
	for _, p := range changes.Paths {
		if _, err := fmt.Fprintln(bw, p); err != nil {
			return fmt.Errorf("failed to write changed path: %w", err)
		}
	}
	return bw.Flush()
}

// ExecInvalidator pipes changed paths into an external command
type ExecInvalidator struct {
	argv   []string
	logger *slog.Logger
}

// NewExecInvalidator creates an invalidator running argv for every non-empty change set
func NewExecInvalidator(argv []string, logger *slog.Logger) *ExecInvalidator {
	return &ExecInvalidator{
		argv:   append([]string(nil), argv...),
		logger: logger,
	}
}

// Invalidate runs the command with the paths on stdin, one per line.
// The revisions are exported as REVSYNC_REVISION, REVSYNC_PREVIOUS_REVISION
// and REVSYNC_FULL_RESYNC.
func (i *ExecInvalidator) Invalidate(ctx context.Context, changes ChangeSet) error {
	if len(i.argv) == 0 {
		return fmt.Errorf("invalidate command is empty")
	}
	if len(changes.Paths) == 0 {
		i.logger.Debug("no changed paths, skipping invalidate command")
		return nil
	}

	cmd := exec.CommandContext(ctx, i.argv[0], i.argv[1:]...)
	cmd.Env = append(os.Environ(),
		"REVSYNC_REVISION="+changes.Revision,
		"REVSYNC_PREVIOUS_REVISION="+changes.Previous,
		fmt.Sprintf("REVSYNC_FULL_RESYNC=%t", changes.Full),
	)
	cmd.Stdin = strings.NewReader(strings.Join(changes.Paths, "\n") + "\n")

	i.logger.Info("running invalidate command", "command", strings.Join(i.argv, " "), "paths", len(changes.Paths))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("invalidate command failed: %w: %s", err, string(output))
	}
	if len(output) > 0 {
		i.logger.Debug("invalidate command output", "output", strings.TrimSpace(string(output)))
	}
	return nil
}
