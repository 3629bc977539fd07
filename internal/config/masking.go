package config

import (
	"strings"

	"github.com/BurntSushi/toml"
)

// maskSecret keeps only the first 4 and last 4 characters of a secret.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 12 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// maskTelegramToken keeps the bot id visible for diagnostics.
func maskTelegramToken(token string) string {
	botID, secret, ok := strings.Cut(token, ":")
	if !ok {
		return maskSecret(token)
	}
	return botID + ":" + maskSecret(secret)
}

// Masked returns a copy safe to print: secrets are masked.
func (c *Config) Masked() *Config {
	out := *c
	out.LLM.MockResponses = append([]string(nil), c.LLM.MockResponses...)
	out.LLM.APIKey = maskSecret(c.LLM.APIKey)
	out.Notify.Telegram.Token = maskTelegramToken(c.Notify.Telegram.Token)
	return &out
}

// TOML renders the masked configuration.
func (c *Config) TOML() (string, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c.Masked()); err != nil {
		return "", err
	}
	return b.String(), nil
}

// formatValidationError formats a validation error with the value masked.
func formatValidationError(field, message, secret string) error {
	msg := field + ": " + message
	if masked := maskSecret(secret); masked != "" {
		msg += " (value: " + masked + ")"
	}
	return &ValidationError{Field: field, Message: msg}
}

// ValidationError is a validation failure for one config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
