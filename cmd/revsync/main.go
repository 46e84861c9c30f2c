package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/revsync/internal/activation"
	"github.com/schaermu/revsync/internal/config"
	"github.com/schaermu/revsync/internal/git"
	"github.com/schaermu/revsync/internal/invalidate"
	"github.com/schaermu/revsync/internal/revision"
	"github.com/schaermu/revsync/internal/sync"
	"github.com/schaermu/revsync/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "revsync",
	Short: "Keep a local Git clone and a file cache in sync",
	Long: `revsync maintains a local clone of a Git repository and tells a cache layer
which files changed since the last synchronized revision.

The last synchronized revision is stored in .cached_revision inside the clone.
Without it, every tracked file is reported so the cache can be seeded from scratch.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one cache refresh cycle",
	Long: `Sync clones the configured repository (or pulls it when a clone exists),
lists the paths changed since the recorded revision, hands them to the cache
invalidator and finally records the new revision.

Without cache.invalidate_command the changed paths are printed to stdout.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a sync cycle on every GitHub push webhook",
	Long: `Serve performs an initial sync, then listens for GitHub webhook events and
triggers a debounced sync whenever the configured repository is pushed.

Systemd socket activation is used when available.`,
	RunE: runServe,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the last synchronized revision",
	RunE:  runState,
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "Print the git commands the next sync cycle would run",
	RunE:  runCommands,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("revsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/revsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changed paths without invalidating or recording the revision")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := newEngine(cfg, logger, cmd.OutOrStdout(), dryRun)

	logger.Info("starting sync operation")
	if _, err := engine.Run(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return errors.New("serve.enabled is false in the configuration")
	}

	ln, err := activation.Listener()
	if err != nil {
		return fmt.Errorf("failed to set up socket activation: %w", err)
	}

	server, err := webhook.NewServer(cfg, newEngine(cfg, logger, cmd.OutOrStdout(), false), logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	return server.Start(ctx, ln)
}

func runState(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	state, ok, err := revision.New(cfg.ResolverOptions()).GetState()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !ok {
		_, _ = fmt.Fprintln(out, "no cached revision (next sync is a full resync)")
		return nil
	}
	_, _ = fmt.Fprintln(out, state)
	return nil
}

func runCommands(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	return printCommands(cmd.OutOrStdout(), revision.New(cfg.ResolverOptions()))
}

// printCommands writes every command the resolver emits, one per line
func printCommands(out io.Writer, resolver *revision.Resolver) error {
	steps := []struct {
		name string
		fn   func() (git.Command, error)
	}{
		{"fetch", resolver.FetchCommand},
		{"update", resolver.UpdateCommand},
		{"current-state", resolver.CurrentStateCommand},
		{"updates-list", resolver.GetUpdatesListCommand},
	}

	for _, step := range steps {
		c, err := step.fn()
		if err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		line := c.String()
		if c == nil {
			line = "(nothing to do)"
		}
		_, _ = fmt.Fprintf(out, "%-14s %s\n", step.name+":", line)
	}
	return nil
}

// newEngine wires resolver, runner and invalidator for cfg
func newEngine(cfg *config.Config, logger *slog.Logger, out io.Writer, dryRun bool) *sync.Engine {
	resolver := revision.New(cfg.ResolverOptions())
	runner := git.NewShellRunner(cfg.Repo.URL, cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)

	var inv invalidate.Invalidator
	if len(cfg.Cache.InvalidateCommand) > 0 {
		inv = invalidate.NewExecInvalidator(cfg.Cache.InvalidateCommand, logger)
	} else {
		inv = invalidate.NewWriterInvalidator(out)
	}

	return sync.NewEngine(resolver, runner, inv, logger, dryRun)
}

// setupLogger builds the logger. Logs go to stderr since stdout carries
// changed paths and command output.
func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/revsync/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repo", cfg.Repo.URL,
		"local_dir", cfg.LocalRepositoryLocation(),
		"auth", cfg.AuthMethod())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
