package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/komorebi/internal/logger"
	"github.com/aatumaykin/komorebi/internal/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestMockProvider_Modes(t *testing.T) {
	ctx := context.Background()
	req := ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}}

	resp, err := NewEchoProvider().Chat(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi", resp.Content)

	resp, err = NewFixedProvider("fixed").Chat(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "fixed", resp.Content)

	_, err = NewErrorProvider().Chat(ctx, req)
	assert.Error(t, err)

	rot := NewMockProvider(MockConfig{Mode: MockModeFixtures, Responses: []string{"a", "b"}})
	var got []string
	for range 3 {
		resp, err := rot.Chat(ctx, req)
		require.NoError(t, err)
		got = append(got, resp.Content)
	}
	assert.Equal(t, []string{"a", "b", "a"}, got)
	assert.Equal(t, 3, rot.CallCount())
}

func TestMockProvider_ErrorAfter(t *testing.T) {
	p := NewMockProvider(MockConfig{Mode: MockModeEcho, ErrorAfter: 1})
	req := ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}}

	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)
	_, err = p.Chat(context.Background(), req)
	assert.Error(t, err)
}

func TestMockProvider_DelayHonoursContext(t *testing.T) {
	p := NewMockProvider(MockConfig{Mode: MockModeEcho, Delay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Chat(ctx, ChatRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockProvider_Concurrent(t *testing.T) {
	p := NewEchoProvider()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, p.CallCount())
	assert.Len(t, p.Requests(), 20)
}

func TestOpenAIProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test-model","choices":[{"message":{"role":"assistant","content":"Test response"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL + "/", Model: "test-model"}, logger.Discard())
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "Hello"}}})

	require.NoError(t, err)
	assert.Equal(t, "Test response", resp.Content)
	assert.Equal(t, FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestOpenAIProvider_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL}, nil)
	_, err := p.Chat(context.Background(), ChatRequest{})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.False(t, retry.IsRetryable(err))
}

func TestGenerator_BuildsMessages(t *testing.T) {
	p := NewEchoProvider()
	g := NewGenerator(p, GeneratorConfig{Temperature: 0.4, MaxTokens: 128, Retry: fastRetry()}, nil)

	out, err := g.Generate(context.Background(), "write", GenerateOptions{SystemInstruction: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "Echo: write", out)

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "mock", reqs[0].Model)
	assert.InDelta(t, 0.4, reqs[0].Temperature, 1e-9)
	assert.Equal(t, 128, reqs[0].MaxTokens)
}

func TestGenerator_RetriesTransientErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	g := NewGenerator(NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL}, nil), GeneratorConfig{Retry: fastRetry()}, nil)
	out, err := g.Generate(context.Background(), "p", GenerateOptions{})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}

func TestGenerator_EmptyResponse(t *testing.T) {
	g := NewGenerator(NewFixedProvider("  "), GeneratorConfig{Retry: fastRetry()}, nil)
	_, err := g.Generate(context.Background(), "p", GenerateOptions{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeneratorFunc(t *testing.T) {
	var gen TextGenerator = GeneratorFunc(func(_ context.Context, prompt string, _ GenerateOptions) (string, error) {
		if prompt == "" {
			return "", errors.New("empty prompt")
		}
		return prompt + "!", nil
	})

	out, err := gen.Generate(context.Background(), "hey", GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hey!", out)
}

func TestTokenBucketRateLimiter(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(2, 50*time.Millisecond, 1)

	ok, _ := limiter.TryAcquire()
	assert.True(t, ok)
	ok, _ = limiter.TryAcquire()
	assert.True(t, ok)
	ok, wait := limiter.TryAcquire()
	assert.False(t, ok)
	assert.Positive(t, wait)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, limiter.Wait(ctx))
}

func TestTokenBucketRateLimiter_WaitCancelled(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(1, time.Hour, 1)
	ok, _ := limiter.TryAcquire()
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}
