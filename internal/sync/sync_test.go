package sync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/schaermu/revsync/internal/git"
	"github.com/schaermu/revsync/internal/invalidate"
	"github.com/schaermu/revsync/internal/revision"
	"github.com/schaermu/revsync/internal/testutil"
)

// localStrategy lets the engine clone repositories from the local filesystem
type localStrategy struct {
	git.GitHubStrategy
}

func (localStrategy) Name() string { return "local" }

func (localStrategy) Supports(url string) bool { return filepath.IsAbs(url) }

// mockInvalidator records change sets
type mockInvalidator struct {
	calls []invalidate.ChangeSet
	err   error
}

func (m *mockInvalidator) Invalidate(_ context.Context, changes invalidate.ChangeSet) error {
	m.calls = append(m.calls, changes)
	return m.err
}

// mockRunner answers commands from a table keyed by the rendered command
type mockRunner struct {
	outputs map[string]string
	errs    map[string]error
	ran     []string
}

func (m *mockRunner) Run(_ context.Context, _ string, cmd git.Command) (string, error) {
	m.ran = append(m.ran, cmd.String())
	if err, ok := m.errs[cmd.String()]; ok {
		return "", err
	}
	if len(cmd) == 4 && cmd[1] == "clone" {
		// Simulate the clone producing a .git directory
		if err := os.MkdirAll(filepath.Join(cmd[3], ".git"), 0755); err != nil {
			return "", err
		}
	}
	return m.outputs[cmd.String()], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func localResolver(remoteDir, localDir string) *revision.Resolver {
	return revision.New(
		revision.Options{RepositoryURL: remoteDir, LocalDirectory: localDir},
		revision.WithRegistry(git.NewRegistry(localStrategy{})),
	)
}

func TestRun_FullThenIncrementalCycle(t *testing.T) {
	ctx := context.Background()

	remoteDir := t.TempDir()
	testutil.InitRepo(t, remoteDir)
	testutil.CommitFile(t, remoteDir, "README.md", "hello\n", "Initial commit")
	rev1 := testutil.CommitFile(t, remoteDir, "docs/guide.md", "guide\n", "Add guide")

	localDir := filepath.Join(t.TempDir(), "cache", "repo")
	resolver := localResolver(remoteDir, localDir)
	inv := &mockInvalidator{}
	engine := NewEngine(resolver, git.NewShellRunner(remoteDir, "", ""), inv, testLogger(), false)

	// First cycle: clone and full inventory
	result, err := engine.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !result.Cloned || !result.Full {
		t.Errorf("expected cloned full resync, got %+v", result)
	}
	if result.Revision != rev1 {
		t.Errorf("expected revision %s, got %s", rev1, result.Revision)
	}
	if want := []string{"README.md", "docs/guide.md"}; !reflect.DeepEqual(result.Paths, want) {
		t.Errorf("expected paths %v, got %v", want, result.Paths)
	}

	state, ok, err := resolver.GetState()
	if err != nil || !ok || state != rev1 {
		t.Fatalf("expected marker %s, got %q ok=%v err=%v", rev1, state, ok, err)
	}

	// Second cycle: pull and diff against the recorded revision
	rev2 := testutil.CommitFile(t, remoteDir, "docs/guide.md", "guide v2\n", "Update guide")

	result, err = engine.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Cloned || result.Full {
		t.Errorf("expected incremental update, got %+v", result)
	}
	if result.Previous != rev1 || result.Revision != rev2 {
		t.Errorf("expected %s..%s, got %s..%s", rev1, rev2, result.Previous, result.Revision)
	}
	if want := []string{"docs/guide.md"}; !reflect.DeepEqual(result.Paths, want) {
		t.Errorf("expected paths %v, got %v", want, result.Paths)
	}

	// Third cycle: nothing new
	result, err = engine.Run(ctx)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if !result.UpToDate {
		t.Errorf("expected up to date, got %+v", result)
	}

	if len(inv.calls) != 2 {
		t.Fatalf("expected 2 invalidations, got %d", len(inv.calls))
	}
	if inv.calls[1].Previous != rev1 || inv.calls[1].Revision != rev2 {
		t.Errorf("unexpected change set %+v", inv.calls[1])
	}
}

func TestRun_NotConfigured(t *testing.T) {
	runner := &mockRunner{}
	inv := &mockInvalidator{}

	for _, opts := range []revision.Options{
		{},
		{LocalDirectory: t.TempDir()},
		{RepositoryURL: "https://github.com/org/repo"},
	} {
		engine := NewEngine(revision.New(opts), runner, inv, testLogger(), false)
		result, err := engine.Run(context.Background())
		if err != nil {
			t.Fatalf("Run(%+v) error: %v", opts, err)
		}
		if !result.Skipped {
			t.Errorf("Run(%+v) expected skipped result", opts)
		}
	}

	if len(runner.ran) != 0 {
		t.Errorf("expected no commands, ran %v", runner.ran)
	}
	if len(inv.calls) != 0 {
		t.Errorf("expected no invalidation, got %d", len(inv.calls))
	}
}

func TestRun_UnsupportedRepository(t *testing.T) {
	resolver := revision.New(revision.Options{
		RepositoryURL:  "https://gitlab.com/org/repo",
		LocalDirectory: filepath.Join(t.TempDir(), "repo"),
	})
	engine := NewEngine(resolver, &mockRunner{}, &mockInvalidator{}, testLogger(), false)

	_, err := engine.Run(context.Background())
	if !errors.Is(err, git.ErrUnsupportedRepository) {
		t.Fatalf("expected unsupported repository error, got %v", err)
	}
}

func TestRun_WithMockRunner(t *testing.T) {
	localDir := filepath.Join(t.TempDir(), "repo")
	resolver := revision.New(revision.Options{RepositoryURL: "https://github.com/org/repo", LocalDirectory: localDir})

	runner := &mockRunner{outputs: map[string]string{
		"git rev-parse --short HEAD":                  "abc123\n",
		"git ls-tree --full-tree -r --name-only HEAD": "a.txt\nb/c.txt\n",
	}}
	inv := &mockInvalidator{}
	engine := NewEngine(resolver, runner, inv, testLogger(), false)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	wantRan := []string{
		"git clone https://github.com/org/repo " + localDir,
		"git rev-parse --short HEAD",
		"git ls-tree --full-tree -r --name-only HEAD",
	}
	if !reflect.DeepEqual(runner.ran, wantRan) {
		t.Errorf("ran %v, want %v", runner.ran, wantRan)
	}
	if !reflect.DeepEqual(result.Paths, []string{"a.txt", "b/c.txt"}) {
		t.Errorf("unexpected paths %v", result.Paths)
	}

	// Next cycle pulls, then finds the same revision
	runner.ran = nil
	result, err = engine.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if !result.UpToDate {
		t.Errorf("expected up to date, got %+v", result)
	}
	if runner.ran[0] != "git pull" {
		t.Errorf("expected pull first, ran %v", runner.ran)
	}
}

func TestRun_InvalidatorFailureKeepsMarker(t *testing.T) {
	localDir := filepath.Join(t.TempDir(), "repo")
	resolver := revision.New(revision.Options{RepositoryURL: "https://github.com/org/repo", LocalDirectory: localDir})
	runner := &mockRunner{outputs: map[string]string{
		"git rev-parse --short HEAD":                  "abc123\n",
		"git ls-tree --full-tree -r --name-only HEAD": "a.txt\n",
	}}
	inv := &mockInvalidator{err: errors.New("cache unavailable")}
	engine := NewEngine(resolver, runner, inv, testLogger(), false)

	if _, err := engine.Run(context.Background()); err == nil {
		t.Fatal("expected error from invalidator, got nil")
	}

	if _, ok, _ := resolver.GetState(); ok {
		t.Error("marker must not be written when invalidation fails")
	}
}

func TestRun_DryRun(t *testing.T) {
	localDir := filepath.Join(t.TempDir(), "repo")
	resolver := revision.New(revision.Options{RepositoryURL: "https://github.com/org/repo", LocalDirectory: localDir})
	runner := &mockRunner{outputs: map[string]string{
		"git rev-parse --short HEAD":                  "abc123\n",
		"git ls-tree --full-tree -r --name-only HEAD": "a.txt\n",
	}}
	inv := &mockInvalidator{}
	engine := NewEngine(resolver, runner, inv, testLogger(), true)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.Paths) != 1 {
		t.Errorf("expected change set in dry-run, got %v", result.Paths)
	}
	if len(inv.calls) != 0 {
		t.Error("dry-run must not invalidate")
	}
	if _, ok, _ := resolver.GetState(); ok {
		t.Error("dry-run must not write the marker")
	}
}

func TestRun_CommandFailures(t *testing.T) {
	tests := []struct {
		name    string
		failing string
		wantErr string
	}{
		{name: "clone", failing: "clone", wantErr: "failed to clone repository"},
		{name: "revision", failing: "git rev-parse --short HEAD", wantErr: "failed to read current revision"},
		{name: "list", failing: "git ls-tree --full-tree -r --name-only HEAD", wantErr: "failed to list changed paths"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			localDir := filepath.Join(t.TempDir(), "repo")
			resolver := revision.New(revision.Options{RepositoryURL: "https://github.com/org/repo", LocalDirectory: localDir})

			failing := tt.failing
			if failing == "clone" {
				failing = "git clone https://github.com/org/repo " + localDir
			}
			runner := &mockRunner{
				outputs: map[string]string{"git rev-parse --short HEAD": "abc123\n"},
				errs:    map[string]error{failing: errors.New("exit status 128")},
			}
			engine := NewEngine(resolver, runner, &mockInvalidator{}, testLogger(), false)

			_, err := engine.Run(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: []string{}},
		{in: "a\n", want: []string{"a"}},
		{in: "a\nb/c\n\n", want: []string{"a", "b/c"}},
		{in: "a\r\nb\r\n", want: []string{"a", "b"}},
	}

	for _, tt := range tests {
		if got := splitLines(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitLines(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsClone(t *testing.T) {
	dir := t.TempDir()
	if isClone(dir) {
		t.Error("empty directory is not a clone")
	}
	if isClone("") {
		t.Error("empty path is not a clone")
	}
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if !isClone(dir) {
		t.Error("directory with .git is a clone")
	}
}
