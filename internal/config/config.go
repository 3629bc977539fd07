package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads the configuration from a TOML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML text, applies defaults and expands variables.
func Parse(data string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	// enabled unless switched off explicitly
	if !md.IsDefined("scheduler", "enabled") {
		cfg.Scheduler.Enabled = true
	}
	if !md.IsDefined("orchestrator", "enabled") {
		cfg.Orchestrator.Enabled = true
	}

	applyDefaults(&cfg)
	expandEnvVars(&cfg)

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Parse("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// expandEnvVars expands environment variables in string fields.
func expandEnvVars(c *Config) {
	for _, s := range []*string{
		&c.Workspace.Path,
		&c.Logging.Output,
		&c.LLM.APIKey,
		&c.LLM.BaseURL,
		&c.LLM.Model,
		&c.Notify.Telegram.Token,
		&c.Scheduler.SeedFile,
		&c.Scheduler.Timezone,
	} {
		*s = expandEnv(*s)
	}

	c.Workspace.Path = expandHome(c.Workspace.Path)
	c.Scheduler.SeedFile = expandHome(c.Scheduler.SeedFile)
}

// expandEnv expands ${VAR} or ${VAR:default}.
// Only a value that is entirely a reference is expanded.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}

	content := s[2 : len(s)-1]
	key, defaultVal, hasDefault := strings.Cut(content, ":")
	if val := os.Getenv(key); val != "" {
		return val
	}
	if hasDefault {
		return defaultVal
	}
	return ""
}

// expandHome expands a leading ~ in a path.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
