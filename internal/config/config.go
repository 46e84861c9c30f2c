package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/revsync/internal/revision"
)

// DefaultDebounce delays webhook-triggered syncs when serve.debounce is unset
const DefaultDebounce = 2 * time.Second

// Config represents the complete revsync configuration
type Config struct {
	Repo  RepoConfig  `yaml:"repo" toml:"repo"`
	Paths PathsConfig `yaml:"paths" toml:"paths"`
	Auth  AuthConfig  `yaml:"auth" toml:"auth"`
	Cache CacheConfig `yaml:"cache" toml:"cache"`
	Serve ServeConfig `yaml:"serve" toml:"serve"`
}

// RepoConfig configures the Git repository source.
// An empty URL leaves the resolver inert.
type RepoConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	StateDir string `yaml:"state_dir" toml:"state_dir"`
	LocalDir string `yaml:"local_dir" toml:"local_dir"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file" toml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file" toml:"https_token_file"`
}

// CacheConfig configures how changed paths reach the cache layer
type CacheConfig struct {
	// InvalidateCommand receives changed paths on stdin, one per line.
	// When empty the paths are printed to stdout.
	InvalidateCommand []string `yaml:"invalidate_command" toml:"invalidate_command"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled" toml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr" toml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file" toml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types" toml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs" toml:"allowed_refs"`
	Debounce                Duration `yaml:"debounce" toml:"debounce"`
}

// Duration is a time.Duration read from strings like "2s"
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText parses a duration string; toml uses it directly
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and parses the configuration file.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Paths.LocalDir = os.ExpandEnv(c.Paths.LocalDir)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	for i, arg := range c.Cache.InvalidateCommand {
		c.Cache.InvalidateCommand[i] = os.ExpandEnv(arg)
	}
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Serve.Debounce == 0 {
		c.Serve.Debounce = Duration(DefaultDebounce)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate paths
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}
	if c.Paths.LocalDir != "" && !filepath.IsAbs(c.Paths.LocalDir) {
		return fmt.Errorf("paths.local_dir must be an absolute path: %s", c.Paths.LocalDir)
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but repo.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but repo.url does not use HTTPS scheme")
	}

	if c.Serve.Debounce < 0 {
		return fmt.Errorf("serve.debounce must not be negative")
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Repo.URL == "" {
			return fmt.Errorf("repo.url is required when serve is enabled")
		}
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// LocalRepositoryLocation returns the directory holding the clone
func (c *Config) LocalRepositoryLocation() string {
	if c.Paths.LocalDir != "" {
		return c.Paths.LocalDir
	}
	if c.Paths.StateDir == "" {
		return ""
	}
	return filepath.Join(c.Paths.StateDir, "repo")
}

// ResolverOptions returns the resolver configuration for this repository
func (c *Config) ResolverOptions() revision.Options {
	return revision.Options{
		RepositoryURL:  c.Repo.URL,
		LocalDirectory: c.LocalRepositoryLocation(),
	}
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the repo URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Repo.URL, "https://")
}

// IsSSH returns true if the repo URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Repo.URL, "git@") || strings.HasPrefix(c.Repo.URL, "ssh://")
}
