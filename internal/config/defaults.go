package config

// applyDefaults fills zero fields with defaults.
func applyDefaults(c *Config) {
	if c.Workspace.Path == "" {
		c.Workspace.Path = "~/.komorebi"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "mock"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.Retry.MaxAttempts == 0 {
		c.LLM.Retry.MaxAttempts = 3
	}
	if c.LLM.Retry.InitialBackoffMs == 0 {
		c.LLM.Retry.InitialBackoffMs = 1000
	}
	if c.LLM.Retry.MaxBackoffMs == 0 {
		c.LLM.Retry.MaxBackoffMs = 10000
	}
	if c.LLM.RateLimit.Capacity == 0 {
		c.LLM.RateLimit.Capacity = 10
	}
	if c.LLM.RateLimit.RefillIntervalMs == 0 {
		c.LLM.RateLimit.RefillIntervalMs = 6000
	}
	if c.LLM.RateLimit.RefillAmount == 0 {
		c.LLM.RateLimit.RefillAmount = 1
	}

	if c.Pool.MaxAgents == 0 {
		c.Pool.MaxAgents = 5
	}
	if c.Pool.DefaultTimeoutSeconds == 0 {
		c.Pool.DefaultTimeoutSeconds = 300
	}
	if c.Pool.HistorySize == 0 {
		c.Pool.HistorySize = 20
	}

	if c.Orchestrator.IntervalSeconds == 0 {
		c.Orchestrator.IntervalSeconds = 1800
	}
	if c.Orchestrator.MaxProposalsPerRun == 0 {
		c.Orchestrator.MaxProposalsPerRun = 1
	}
	if c.Orchestrator.MaxSubAgentsPerRun == 0 {
		c.Orchestrator.MaxSubAgentsPerRun = 3
	}

	if c.Scheduler.CheckIntervalSeconds == 0 {
		c.Scheduler.CheckIntervalSeconds = 30
	}
	if c.Scheduler.HistorySize == 0 {
		c.Scheduler.HistorySize = 100
	}

	if c.Activity.Capacity == 0 {
		c.Activity.Capacity = 200
	}
	if c.Activity.ThoughtsCapacity == 0 {
		c.Activity.ThoughtsCapacity = 100
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "komorebi"
	}

	if c.Notify.Telegram.MinLevel == "" {
		c.Notify.Telegram.MinLevel = "warning"
	}

	if c.Browser.TimeoutSeconds == 0 {
		c.Browser.TimeoutSeconds = 30
	}
	if c.Browser.MaxResponseSize == 0 {
		c.Browser.MaxResponseSize = 5 << 20
	}
	if c.Browser.UserAgent == "" {
		c.Browser.UserAgent = "Komorebi/1.0"
	}
}
