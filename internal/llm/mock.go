package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockMode defines the operation mode of the mock provider.
type MockMode int

const (
	// MockModeEcho returns the last user message.
	MockModeEcho MockMode = iota
	// MockModeFixed always returns the first configured response.
	MockModeFixed
	// MockModeFixtures rotates through the configured responses.
	MockModeFixtures
	// MockModeError always fails.
	MockModeError
)

// MockConfig holds configuration for the mock provider.
type MockConfig struct {
	Mode       MockMode
	Responses  []string
	Delay      time.Duration // simulated latency, honours ctx cancellation
	ErrorAfter int           // successful calls before every call fails
}

// MockProvider is a deterministic Provider for tests and offline runs.
// It is safe for concurrent use.
type MockProvider struct {
	cfg MockConfig

	mu        sync.Mutex
	index     int
	callCount int
	requests  []ChatRequest
}

// NewMockProvider creates a mock provider.
func NewMockProvider(cfg MockConfig) *MockProvider {
	return &MockProvider{cfg: cfg}
}

// NewEchoProvider creates a mock provider that echoes user messages.
func NewEchoProvider() *MockProvider {
	return NewMockProvider(MockConfig{Mode: MockModeEcho})
}

// NewFixedProvider creates a mock provider that always returns response.
func NewFixedProvider(response string) *MockProvider {
	return NewMockProvider(MockConfig{Mode: MockModeFixed, Responses: []string{response}})
}

// NewErrorProvider creates a mock provider that always returns errors.
func NewErrorProvider() *MockProvider {
	return NewMockProvider(MockConfig{Mode: MockModeError})
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.cfg.Delay > 0 {
		select {
		case <-time.After(m.cfg.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.requests = append(m.requests, req)

	if m.cfg.ErrorAfter > 0 && m.callCount > m.cfg.ErrorAfter {
		return nil, fmt.Errorf("mock provider error after %d calls", m.cfg.ErrorAfter)
	}

	var userMessage string
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == RoleUser {
		userMessage = req.Messages[n-1].Content
	}

	var response string
	switch m.cfg.Mode {
	case MockModeError:
		return nil, fmt.Errorf("mock provider error")
	case MockModeEcho:
		response = "Echo: " + userMessage
	case MockModeFixed:
		if len(m.cfg.Responses) > 0 {
			response = m.cfg.Responses[0]
		}
	case MockModeFixtures:
		if len(m.cfg.Responses) > 0 {
			response = m.cfg.Responses[m.index]
			m.index = (m.index + 1) % len(m.cfg.Responses)
		}
	}

	return &ChatResponse{
		Content:      response,
		Model:        req.Model,
		FinishReason: FinishReasonStop,
		Usage: Usage{
			PromptTokens:     len(userMessage),
			CompletionTokens: len(response),
			TotalTokens:      len(userMessage) + len(response),
		},
	}, nil
}

// DefaultModel implements Provider.
func (m *MockProvider) DefaultModel() string {
	return "mock"
}

// CallCount returns the number of Chat calls made so far.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Requests returns a copy of every request received.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
