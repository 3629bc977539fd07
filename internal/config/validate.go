package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/aatumaykin/komorebi/internal/cron"
)

// Validate checks the configuration and returns every error found.
func (c *Config) Validate() []error {
	var errs []error

	if c.Workspace.Path == "" {
		errs = append(errs, fmt.Errorf("workspace.path is required"))
	} else if err := validatePath(c.Workspace.Path, "workspace.path"); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateLLM()...)

	if c.Pool.MaxAgents < 1 {
		errs = append(errs, fmt.Errorf("pool.max_agents must be >= 1 (got %d)", c.Pool.MaxAgents))
	}
	if c.Pool.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("pool.history_size must be >= 1 (got %d)", c.Pool.HistorySize))
	}

	if c.Orchestrator.IntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.interval_seconds must be >= 1"))
	}
	if c.Orchestrator.MaxProposalsPerRun < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.max_proposals_per_run must be >= 1"))
	}
	if c.Orchestrator.MaxSubAgentsPerRun < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.max_sub_agents_per_run must be >= 1"))
	}

	if c.Scheduler.CheckIntervalSeconds < 1 || c.Scheduler.CheckIntervalSeconds > 60 {
		// a tick longer than a minute can miss a whole cron minute
		errs = append(errs, fmt.Errorf("scheduler.check_interval_seconds must be between 1 and 60 (got %d)", c.Scheduler.CheckIntervalSeconds))
	}
	if c.Scheduler.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("scheduler.history_size must be >= 1"))
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err))
		}
	}

	if c.Activity.Capacity < 1 || c.Activity.ThoughtsCapacity < 1 {
		errs = append(errs, fmt.Errorf("activity.capacity and activity.thoughts_capacity must be >= 1"))
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("invalid metrics.listen_addr %q: %w", c.Metrics.ListenAddr, err))
		}
	}

	errs = append(errs, c.validateTelegram()...)

	if c.Browser.TimeoutSeconds < 1 || c.Browser.TimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("browser.timeout_seconds must be between 1 and 120"))
	}
	if c.Browser.MaxResponseSize < 1 {
		errs = append(errs, fmt.Errorf("browser.max_response_size must be >= 1"))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(c.Logging.Format)) {
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}
	if c.Logging.Output == "" {
		errs = append(errs, fmt.Errorf("logging.output is required"))
	}
	return errs
}

func (c *Config) validateLLM() []error {
	var errs []error
	switch c.LLM.Provider {
	case "mock":
	case "openai":
		if err := validateAPIKey(c.LLM.APIKey, "llm.api_key"); err != nil {
			errs = append(errs, err)
		}
		if c.LLM.BaseURL != "" {
			if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("invalid llm.base_url: %s", c.LLM.BaseURL))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("invalid llm.provider: %s (expected: openai, mock)", c.LLM.Provider))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2 (got %g)", c.LLM.Temperature))
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("llm.retry.max_attempts must be >= 1"))
	}
	if c.LLM.RateLimit.Enabled && (c.LLM.RateLimit.Capacity < 1 || c.LLM.RateLimit.RefillAmount < 1 || c.LLM.RateLimit.RefillIntervalMs < 1) {
		errs = append(errs, fmt.Errorf("llm.rate_limit capacity, refill_amount and refill_interval_ms must be >= 1"))
	}
	return errs
}

func (c *Config) validateTelegram() []error {
	t := c.Notify.Telegram
	if !t.Enabled {
		return nil
	}

	var errs []error
	if t.Token == "" {
		errs = append(errs, fmt.Errorf("notify.telegram.token is required when telegram is enabled"))
	} else if err := validateTelegramToken(t.Token); err != nil {
		errs = append(errs, err)
	}
	if t.ChatID == 0 {
		errs = append(errs, fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled"))
	}
	if !slices.Contains([]string{"info", "success", "warning", "error"}, t.MinLevel) {
		errs = append(errs, fmt.Errorf("invalid notify.telegram.min_level: %s (expected: info, success, warning, error)", t.MinLevel))
	}
	return errs
}

// ValidateSchedule reports whether expr is a usable cron expression.
func ValidateSchedule(expr string) error {
	_, err := cron.ParseStrict(expr)
	return err
}

func validateAPIKey(key, fieldName string) error {
	if key == "" {
		return fmt.Errorf("%s is required when provider is 'openai'", fieldName)
	}
	if len(key) < 10 {
		return formatValidationError(fieldName, fmt.Sprintf("is too short (minimum 10 characters, got %d)", len(key)), key)
	}
	return nil
}

func validateTelegramToken(token string) error {
	botID, secret, ok := strings.Cut(token, ":")
	if !ok {
		return formatValidationError("notify.telegram.token", "has invalid format (expected <bot_id>:<token>)", token)
	}
	if len(botID) < 3 || len(botID) > 15 {
		return fmt.Errorf("telegram token has invalid bot ID length (expected 3-15 digits, got %d digits)", len(botID))
	}
	for _, r := range botID {
		if r < '0' || r > '9' {
			return fmt.Errorf("telegram token has invalid bot ID (expected digits only, got: %s)", botID)
		}
	}
	if len(secret) < 10 || len(secret) > 50 {
		return fmt.Errorf("telegram token has invalid token length (expected 10-50 characters, got %d)", len(secret))
	}
	return nil
}

func validatePath(path, fieldName string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}
	return nil
}
