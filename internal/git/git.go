package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes commands produced by the revision resolver
type Runner interface {
	// Run executes cmd with dir as working directory (the current directory
	// when dir is empty) and returns its stdout
	Run(ctx context.Context, dir string, cmd Command) (string, error)
}

// ShellRunner implements Runner by spawning processes
type ShellRunner struct {
	repoURL        string
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellRunner creates a runner for commands against repoURL.
// Authentication is only applied to git invocations.
func NewShellRunner(repoURL, sshKeyFile, httpsTokenFile string) *ShellRunner {
	return &ShellRunner{
		repoURL:        repoURL,
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// Run executes the command and returns stdout. On failure the error carries stderr.
func (r *ShellRunner) Run(ctx context.Context, dir string, command Command) (string, error) {
	if len(command) == 0 {
		return "", errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, command.Program(), command.Args()...)
	cmd.Dir = dir
	if command.Program() == "git" {
		if err := r.configureAuth(cmd); err != nil {
			return "", err
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// configureAuth sets up authentication for git operations
func (r *ShellRunner) configureAuth(cmd *exec.Cmd) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	// Never block on an interactive credential prompt
	cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")

	// SSH authentication
	if r.sshKeyFile != "" && (strings.HasPrefix(r.repoURL, "git@") || strings.HasPrefix(r.repoURL, "ssh://")) {
		// The path is shell-quoted since GIT_SSH_COMMAND goes through a shell.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(r.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if r.httpsTokenFile != "" && strings.HasPrefix(r.repoURL, "https://") {
		token, err := os.ReadFile(r.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// The token travels through the environment and a credential helper
		// reads it, so it never shows up in argv.
		cmd.Env = append(cmd.Env, "REVSYNC_GIT_TOKEN="+strings.TrimSpace(string(token)))
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$REVSYNC_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "pull").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
