// Package config loads and stores proofsync configuration: the global
// config and the credential under ~/.proofsync, plus an optional
// per-project .proofsync.yaml overlay at the workspace root.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/proofsync/proofsync/internal/schema"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid config")
)

// Defaults applied by Load when a field is unset.
const (
	DefaultBranch       = "verifier"
	DefaultPollMs       = 1000
	DefaultQueueGraceMs = 5000
	DefaultDashboard    = 7643
)

// Config represents the application configuration.
type Config struct {
	// HostingAPIURL is the git-hosting API base URL. Empty means the
	// public endpoint.
	HostingAPIURL string `json:"hosting_api_url,omitempty"`
	// JobServerURL is the verification job server base URL.
	JobServerURL string `json:"job_server_url"`
	// Repository is the "owner/name" slug of the synced repository.
	Repository string `json:"repository"`
	// Branch is the shadow branch name.
	Branch string `json:"branch,omitempty"`
	// SourceExtensions limits which files the watcher tracks.
	SourceExtensions []string `json:"source_extensions,omitempty"`
	// PollIntervalMs is the steady job poll cadence.
	PollIntervalMs int `json:"poll_interval_ms,omitempty"`
	// QueueGraceMs is the wait after a poll that reports a queue.
	QueueGraceMs int `json:"queue_grace_ms,omitempty"`
	// DashboardPort is the loopback port of the watch-mode dashboard.
	DashboardPort int `json:"dashboard_port,omitempty"`
}

func init() {
	schema.Register(schema.LabelConfig, Config{})
	schema.Register(schema.LabelProject, Project{})
}

// Dir returns the proofsync dotdir path.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".proofsync"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load loads and validates the configuration from ~/.proofsync/config.json.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads and validates the configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// The schema is generated from the Config struct itself, so a typo'd
	// key or a mistyped value is caught before decoding.
	if err := schema.Validate(schema.LabelConfig, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to ~/.proofsync/config.json.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if len(c.SourceExtensions) == 0 {
		c.SourceExtensions = []string{".miz"}
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = DefaultPollMs
	}
	if c.QueueGraceMs == 0 {
		c.QueueGraceMs = DefaultQueueGraceMs
	}
	if c.DashboardPort == 0 {
		c.DashboardPort = DefaultDashboard
	}
}

func (c *Config) validate() error {
	if c.JobServerURL == "" {
		return fmt.Errorf("%w: job_server_url is required", ErrInvalidConfig)
	}
	if c.Repository == "" {
		return fmt.Errorf("%w: repository is required", ErrInvalidConfig)
	}
	if !strings.Contains(c.Repository, "/") {
		return fmt.Errorf("%w: repository must be an owner/name slug, got %q", ErrInvalidConfig, c.Repository)
	}
	if c.PollIntervalMs < 0 || c.QueueGraceMs < 0 {
		return fmt.Errorf("%w: poll intervals cannot be negative", ErrInvalidConfig)
	}
	return nil
}
