// Package config provides configuration loading and validation for the
// dogwalker daemon.
//
// Configuration comes from a YAML file (dogwalker.yaml) with secrets taken
// from the environment. Loaded configs are validated before use and passed
// around by value; there is no mutable global.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file leaves a field unset.
const (
	DefaultBaseBranch       = "main"
	DefaultNATSBucket       = "DOGWALKER_COORD"
	DefaultNATSStream       = "DOGWALKER_TASKS"
	DefaultNATSSubject      = "dogwalker.tasks"
	DefaultMetricsAddr      = ":9090"
	DefaultRetentionHours   = 24
	DefaultCancelTTLMinutes = 60
	DefaultAwaitTimeoutSec  = 600
	DefaultPollIntervalSec  = 10
	DefaultGHTimeoutSec     = 30
)

// DefaultRetryBackoffSec is the transient-error backoff schedule in seconds.
var DefaultRetryBackoffSec = []int{60, 120, 240}

// Dog describes one configured agent identity.
type Dog struct {
	Name        string `yaml:"name"`         // GitHub username, used for commits and branch names
	DisplayName string `yaml:"display_name"` // Chat-facing name
	Email       string `yaml:"email"`
}

// SlackConfig holds chat-platform settings. Tokens are environment variable
// NAMES, not values, so the file can be committed.
type SlackConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	AppTokenEnv string `yaml:"app_token_env"`
}

// GitHubConfig holds source-hosting settings.
type GitHubConfig struct {
	Repo              string `yaml:"repo"` // owner/repo
	BaseBranch        string `yaml:"base_branch"`
	CommandTimeoutSec int    `yaml:"command_timeout_sec"` // Per gh invocation
}

// NATSConfig holds coordination store and task queue settings. An empty URL
// selects the in-process store and queue (single-process mode).
type NATSConfig struct {
	URL     string `yaml:"url"`
	Bucket  string `yaml:"bucket"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
}

// AgentConfig selects the coding-agent backend.
type AgentConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// RunnerConfig tunes the task state machine.
type RunnerConfig struct {
	RetryBackoffSec []int  `yaml:"retry_backoff_sec"` // Transient retry schedule
	AwaitTimeoutSec int    `yaml:"await_timeout_sec"` // Blocking feedback wait
	PollIntervalSec int    `yaml:"poll_interval_sec"` // Feedback poll cadence
	RetentionHours  int    `yaml:"retention_hours"`   // Store-key TTL window
	CancelTTLMin    int    `yaml:"cancel_ttl_min"`    // Unobserved cancel-flag lifetime
	WorkDir         string `yaml:"work_dir"`          // Root for task checkouts
}

// MetricsConfig holds the Prometheus endpoints.
type MetricsConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	PrometheusURL string `yaml:"prometheus_url"` // Optional, enables the history duration view
}

// PersistenceConfig holds the terminal-report archive location.
type PersistenceConfig struct {
	DBPath string `yaml:"db_path"`
}

// Config is the root configuration.
type Config struct {
	Dogs        []Dog             `yaml:"dogs"`
	Slack       SlackConfig       `yaml:"slack"`
	GitHub      GitHubConfig      `yaml:"github"`
	NATS        NATSConfig        `yaml:"nats"`
	Agent       AgentConfig       `yaml:"agent"`
	Runner      RunnerConfig      `yaml:"runner"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GitHub.BaseBranch == "" {
		c.GitHub.BaseBranch = DefaultBaseBranch
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = DefaultNATSBucket
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = DefaultNATSStream
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = DefaultNATSSubject
	}
	if c.Slack.BotTokenEnv == "" {
		c.Slack.BotTokenEnv = "SLACK_BOT_TOKEN"
	}
	if c.Slack.AppTokenEnv == "" {
		c.Slack.AppTokenEnv = "SLACK_APP_TOKEN"
	}
	if c.Agent.APIKeyEnv == "" {
		c.Agent.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if len(c.Runner.RetryBackoffSec) == 0 {
		c.Runner.RetryBackoffSec = append([]int{}, DefaultRetryBackoffSec...)
	}
	if c.Runner.AwaitTimeoutSec == 0 {
		c.Runner.AwaitTimeoutSec = DefaultAwaitTimeoutSec
	}
	if c.Runner.PollIntervalSec == 0 {
		c.Runner.PollIntervalSec = DefaultPollIntervalSec
	}
	if c.Runner.RetentionHours == 0 {
		c.Runner.RetentionHours = DefaultRetentionHours
	}
	if c.Runner.CancelTTLMin == 0 {
		c.Runner.CancelTTLMin = DefaultCancelTTLMinutes
	}
	if c.GitHub.CommandTimeoutSec == 0 {
		c.GitHub.CommandTimeoutSec = DefaultGHTimeoutSec
	}
	if c.Runner.WorkDir == "" {
		c.Runner.WorkDir = "workdir"
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = DefaultMetricsAddr
	}
	if c.Persistence.DBPath == "" {
		c.Persistence.DBPath = "dogwalker.db"
	}
}

// Validate checks the loaded config for structural problems. It does not
// verify that secret environment variables are set; that happens at the point
// where the secret is needed, so read-only commands work without them.
func (c *Config) Validate() error {
	if len(c.Dogs) == 0 {
		return fmt.Errorf("config: at least one dog must be configured")
	}
	seen := make(map[string]bool, len(c.Dogs))
	for i := range c.Dogs {
		dog := &c.Dogs[i]
		if dog.Name == "" {
			return fmt.Errorf("config: dog %d has no name", i)
		}
		if dog.Email == "" {
			return fmt.Errorf("config: dog %s has no email", dog.Name)
		}
		if seen[dog.Name] {
			return fmt.Errorf("config: duplicate dog name %s", dog.Name)
		}
		seen[dog.Name] = true
	}

	if c.GitHub.Repo == "" {
		return fmt.Errorf("config: github.repo is required")
	}
	if !strings.Contains(c.GitHub.Repo, "/") {
		return fmt.Errorf("config: github.repo must be owner/repo, got %q", c.GitHub.Repo)
	}

	for _, sec := range c.Runner.RetryBackoffSec {
		if sec <= 0 {
			return fmt.Errorf("config: retry backoff entries must be positive")
		}
	}
	return nil
}

// Retention returns the store-key TTL window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Runner.RetentionHours) * time.Hour
}

// RetryBackoff returns the transient retry schedule as durations.
func (c *Config) RetryBackoff() []time.Duration {
	out := make([]time.Duration, len(c.Runner.RetryBackoffSec))
	for i, sec := range c.Runner.RetryBackoffSec {
		out[i] = time.Duration(sec) * time.Second
	}
	return out
}

// AwaitTimeout returns the blocking feedback-wait timeout.
func (c *Config) AwaitTimeout() time.Duration {
	return time.Duration(c.Runner.AwaitTimeoutSec) * time.Second
}

// PollInterval returns the feedback poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Runner.PollIntervalSec) * time.Second
}

// CancelTTL returns how long an unobserved cancellation flag lives.
func (c *Config) CancelTTL() time.Duration {
	return time.Duration(c.Runner.CancelTTLMin) * time.Minute
}

// GitHubTimeout returns the per-invocation gh CLI timeout.
func (c *Config) GitHubTimeout() time.Duration {
	return time.Duration(c.GitHub.CommandTimeoutSec) * time.Second
}

// SlackBotToken resolves the bot token from the environment.
func (c *Config) SlackBotToken() (string, error) {
	return requireEnv(c.Slack.BotTokenEnv)
}

// SlackAppToken resolves the app-level token from the environment.
func (c *Config) SlackAppToken() (string, error) {
	return requireEnv(c.Slack.AppTokenEnv)
}

// AgentAPIKey resolves the coding-agent API key from the environment.
func (c *Config) AgentAPIKey() (string, error) {
	return requireEnv(c.Agent.APIKeyEnv)
}

func requireEnv(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return v, nil
}
