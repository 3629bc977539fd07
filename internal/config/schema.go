// Package config loads the Komorebi TOML configuration.
//
// Configuration structure:
//   - [workspace]: data directory (tasks, gallery, memories, activity)
//   - [logging]: level, format and output
//   - [llm]: generation provider, model, retry and rate limit
//   - [pool]: sub-agent capacity, timeouts and history
//   - [orchestrator]: autonomous proposal loop
//   - [scheduler]: cron task scheduler and seed file
//   - [activity]: activity log and thought ring sizes
//   - [metrics]: Prometheus endpoint
//   - [notify.telegram]: Telegram notifications for important activity
//   - [browser]: page fetching for browser tasks
//
// String values may reference environment variables as ${VAR} or
// ${VAR:default}; paths may start with ~/.
package config

import "time"

// Config represents the main application configuration.
type Config struct {
	Workspace    WorkspaceConfig    `toml:"workspace"`
	Logging      LoggingConfig      `toml:"logging"`
	LLM          LLMConfig          `toml:"llm"`
	Pool         PoolConfig         `toml:"pool"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Scheduler    SchedulerConfig    `toml:"scheduler"`
	Activity     ActivityConfig     `toml:"activity"`
	Metrics      MetricsConfig      `toml:"metrics"`
	Notify       NotifyConfig       `toml:"notify"`
	Browser      BrowserConfig      `toml:"browser"`
}

// WorkspaceConfig is the [workspace] section.
type WorkspaceConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// LLMConfig configures text generation.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "mock".
	Provider       string          `toml:"provider"`
	Model          string          `toml:"model"`
	BaseURL        string          `toml:"base_url"`
	APIKey         string          `toml:"api_key"`
	TimeoutSeconds int             `toml:"timeout_seconds"`
	Temperature    float64         `toml:"temperature"`
	MaxTokens      int             `toml:"max_tokens"`
	Retry          RetryConfig     `toml:"retry"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
	// MockResponses are rotated by the mock provider; empty means echo.
	MockResponses []string `toml:"mock_responses"`
}

// RetryConfig configures retries of failed generation calls.
type RetryConfig struct {
	MaxAttempts      int `toml:"max_attempts"`
	InitialBackoffMs int `toml:"initial_backoff_ms"`
	MaxBackoffMs     int `toml:"max_backoff_ms"`
}

// RateLimitConfig configures the token bucket in front of the provider.
type RateLimitConfig struct {
	Enabled          bool `toml:"enabled"`
	Capacity         int  `toml:"capacity"`
	RefillIntervalMs int  `toml:"refill_interval_ms"`
	RefillAmount     int  `toml:"refill_amount"`
}

// PoolConfig configures the sub-agent pool.
type PoolConfig struct {
	MaxAgents             int  `toml:"max_agents"`
	DefaultTimeoutSeconds int  `toml:"default_timeout_seconds"`
	AllowParallelSameRole bool `toml:"allow_parallel_same_role"`
	HistorySize           int  `toml:"history_size"`
}

// OrchestratorConfig configures the autonomous loop.
type OrchestratorConfig struct {
	Enabled            bool `toml:"enabled"`
	IntervalSeconds    int  `toml:"interval_seconds"`
	MaxProposalsPerRun int  `toml:"max_proposals_per_run"`
	UseSubAgents       bool `toml:"use_sub_agents"`
	MaxSubAgentsPerRun int  `toml:"max_sub_agents_per_run"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	Enabled              bool   `toml:"enabled"`
	CheckIntervalSeconds int    `toml:"check_interval_seconds"`
	HistorySize          int    `toml:"history_size"`
	Timezone             string `toml:"timezone"`
	SeedFile             string `toml:"seed_file"`
}

// ActivityConfig sizes the activity log.
type ActivityConfig struct {
	Capacity         int `toml:"capacity"`
	ThoughtsCapacity int `toml:"thoughts_capacity"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	Namespace  string `toml:"namespace"`
}

// NotifyConfig groups notification channels.
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

// TelegramConfig configures Telegram notifications.
type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	Token    string `toml:"token"`
	ChatID   int64  `toml:"chat_id"`
	MinLevel string `toml:"min_level"`
}

// BrowserConfig configures page fetching.
type BrowserConfig struct {
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxResponseSize int64  `toml:"max_response_size"`
	UserAgent       string `toml:"user_agent"`
}

// LLMTimeout returns the request timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// PoolTimeout returns the sub-agent default timeout. Negative disables it.
func (c *Config) PoolTimeout() time.Duration {
	return time.Duration(c.Pool.DefaultTimeoutSeconds) * time.Second
}

// OrchestratorInterval returns the proposal cycle interval.
func (c *Config) OrchestratorInterval() time.Duration {
	return time.Duration(c.Orchestrator.IntervalSeconds) * time.Second
}

// SchedulerCheckInterval returns the tick interval.
func (c *Config) SchedulerCheckInterval() time.Duration {
	return time.Duration(c.Scheduler.CheckIntervalSeconds) * time.Second
}

// Location resolves the scheduler timezone. Empty means local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Scheduler.Timezone)
}
