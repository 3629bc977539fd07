package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/komorebi/internal/llm"
	"github.com/aatumaykin/komorebi/internal/logger"
)

func TestBuildProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		mocks    []string
		wantType any
		wantErr  string
	}{
		{name: "echo", provider: "mock", wantType: &llm.MockProvider{}},
		{name: "fixtures", provider: "mock", mocks: []string{"one", "two"}, wantType: &llm.MockProvider{}},
		{name: "openai", provider: "openai", wantType: &llm.OpenAIProvider{}},
		{name: "unknown", provider: "zai", wantErr: "unsupported LLM provider: zai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.LLM.Provider = tt.provider
			cfg.LLM.APIKey = "sk-test-1234567890"
			cfg.LLM.MockResponses = tt.mocks

			p, err := buildProvider(cfg, logger.Discard())
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, p)
		})
	}
}

func TestBuildGenerator_MockFixtures(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.MockResponses = []string{"first", "second"}
	cfg.LLM.RateLimit.Enabled = true

	gen, err := buildGenerator(cfg, logger.Discard())
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), "hello", llm.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, err = gen.Generate(context.Background(), "hello", llm.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "second", out)
}
