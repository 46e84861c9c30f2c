package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// InitRepo creates a git repository on branch main with a committer identity configured.
func InitRepo(t *testing.T, dir string) {
	t.Helper()
	Git(t, "", "init", "-b", "main", dir)
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
}

// CommitFile creates or overwrites name with content, commits it and returns
// the short revision of the new commit.
func CommitFile(t *testing.T, repoDir, name, content, msg string) string {
	t.Helper()
	path := filepath.Join(repoDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	Git(t, repoDir, "add", name)
	Git(t, repoDir, "commit", "-m", msg)
	return Git(t, repoDir, "rev-parse", "--short", "HEAD")
}

// Git runs git in dir and returns its trimmed stdout, failing the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		t.Fatalf("git %v: %v: %s", args, err, stderr)
	}
	return strings.TrimSpace(string(out))
}
