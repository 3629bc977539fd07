package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aatumaykin/komorebi/internal/logger"
	"github.com/aatumaykin/komorebi/internal/retry"
)

// ErrEmptyResponse is returned when the provider answered with no text.
var ErrEmptyResponse = errors.New("empty response from provider")

// GenerateOptions tune a single generation call.
type GenerateOptions struct {
	SystemInstruction string
	Model             string
	Temperature       float64
	MaxTokens         int
}

// TextGenerator turns a prompt into text. Implementations must return an
// error on failure; callers never inspect partial output.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GeneratorFunc adapts a plain function to TextGenerator.
type GeneratorFunc func(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

// Generate implements TextGenerator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return f(ctx, prompt, opts)
}

// GeneratorConfig configures NewGenerator.
type GeneratorConfig struct {
	Temperature float64
	MaxTokens   int
	Retry       retry.Config
	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter *TokenBucketRateLimiter
}

// Generator is the default TextGenerator over a chat Provider.
type Generator struct {
	provider Provider
	cfg      GeneratorConfig
	logger   *logger.Logger
}

// NewGenerator wraps provider with retry and optional rate limiting.
func NewGenerator(provider Provider, cfg GeneratorConfig, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.Discard()
	}
	return &Generator{provider: provider, cfg: cfg, logger: log}
}

// Generate implements TextGenerator.
func (g *Generator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	req := ChatRequest{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if req.Model == "" {
		req.Model = g.provider.DefaultModel()
	}
	if req.Temperature == 0 {
		req.Temperature = g.cfg.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = g.cfg.MaxTokens
	}
	if opts.SystemInstruction != "" {
		req.Messages = append(req.Messages, Message{Role: RoleSystem, Content: opts.SystemInstruction})
	}
	req.Messages = append(req.Messages, Message{Role: RoleUser, Content: prompt})

	resp, err := retry.Do(ctx, g.cfg.Retry, g.logger, func(ctx context.Context) (*ChatResponse, error) {
		if g.cfg.RateLimiter != nil {
			if err := g.cfg.RateLimiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return g.provider.Chat(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}

	g.logger.DebugCtx(ctx, "generation finished",
		logger.Field{Key: "model", Value: resp.Model},
		logger.Field{Key: "finish_reason", Value: string(resp.FinishReason)},
		logger.Field{Key: "total_tokens", Value: resp.Usage.TotalTokens})

	return content, nil
}
