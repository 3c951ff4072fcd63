// Package config loads and validates the daemon's YAML configuration
// document, following the load/parse/validate-with-defaults shape the
// example pack uses for its own structured configs.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetbridge/bridge/pkg/types"
)

// Config is the top-level daemon configuration document.
type Config struct {
	TeamName             string `yaml:"teamName"`
	WorkerName           string `yaml:"workerName"`
	Provider             string `yaml:"provider"`
	WorkingDirectory     string `yaml:"workingDirectory"`
	Model                string `yaml:"model,omitempty"`
	PollIntervalMs       int    `yaml:"pollIntervalMs,omitempty"`
	TaskTimeoutMs        int    `yaml:"taskTimeoutMs,omitempty"`
	MaxConsecutiveErrors int    `yaml:"maxConsecutiveErrors,omitempty"`
	OutboxMaxLines       int    `yaml:"outboxMaxLines,omitempty"`
	MaxRetries           int    `yaml:"maxRetries,omitempty"`
}

const (
	defaultPollIntervalMs       = 3000
	defaultTaskTimeoutMs        = 600_000
	defaultMaxConsecutiveErrors = 3
	defaultOutboxMaxLines       = 500
	defaultMaxRetries           = 5
)

// Load reads, parses, defaults, and validates the config document at path.
func Load(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = defaultPollIntervalMs
	}
	if c.TaskTimeoutMs == 0 {
		c.TaskTimeoutMs = defaultTaskTimeoutMs
	}
	if c.MaxConsecutiveErrors == 0 {
		c.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if c.OutboxMaxLines == 0 {
		c.OutboxMaxLines = defaultOutboxMaxLines
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
}

// Validate checks the config for internal consistency and environment
// preconditions. Call after ApplyDefaults.
func (c *Config) Validate() error {
	if c.TeamName == "" {
		return fmt.Errorf("config: teamName is required")
	}
	if c.WorkerName == "" {
		return fmt.Errorf("config: workerName is required")
	}
	switch types.Provider(c.Provider) {
	case types.ProviderCodex, types.ProviderGemini:
	default:
		return fmt.Errorf("config: provider must be %q or %q, got %q", types.ProviderCodex, types.ProviderGemini, c.Provider)
	}
	if c.WorkingDirectory == "" {
		return fmt.Errorf("config: workingDirectory is required")
	}
	if err := validateWorkingDirectory(c.WorkingDirectory); err != nil {
		return err
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("config: pollIntervalMs must be positive")
	}
	if c.TaskTimeoutMs <= 0 {
		return fmt.Errorf("config: taskTimeoutMs must be positive")
	}
	if c.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("config: maxConsecutiveErrors must be positive")
	}
	if c.OutboxMaxLines <= 0 {
		return fmt.Errorf("config: outboxMaxLines must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("config: maxRetries must be positive")
	}
	return nil
}

// PollInterval returns the configured poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// TaskTimeout returns the configured task timeout as a duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMs) * time.Millisecond
}

// validateConfigPath requires the config file to live under the per-user
// state root (~/.local/state, following the XDG convention) or under a
// .omc subtree anywhere.
func validateConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolving %s: %w", path, err)
	}
	if containsOmcSegment(abs) {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("config: determining home directory: %w", err)
	}
	stateRoot := filepath.Join(home, ".local", "state")
	rel, err := filepath.Rel(stateRoot, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("config: %s must be under the state root %s or a .omc subtree", path, stateRoot)
	}
	return nil
}

func containsOmcSegment(abs string) bool {
	for _, part := range strings.Split(filepath.ToSlash(abs), "/") {
		if part == ".omc" {
			return true
		}
	}
	return false
}

// validateWorkingDirectory requires the directory to exist, resolve
// beneath the user's home, and sit inside a source-control worktree.
func validateWorkingDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("config: workingDirectory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: workingDirectory %s is not a directory", dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("config: resolving workingDirectory %s: %w", dir, err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("config: determining home directory: %w", err)
	}
	rel, err := filepath.Rel(home, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("config: workingDirectory %s must resolve beneath the home directory", dir)
	}

	if !insideWorktree(abs) {
		return fmt.Errorf("config: workingDirectory %s is not inside a source-control worktree", dir)
	}
	return nil
}

// insideWorktree is overridden in tests to avoid depending on a real git
// binary or a real repository checkout.
var insideWorktree = func(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}
