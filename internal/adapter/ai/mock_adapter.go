package ai

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

const (
	mockWorkflowReply = `{"description":"List clients","requiresConfirmation":false,"commands":[{"operation":"search","entity":"client","conditions":{}}]}`
	mockPlanReply     = `{"description":"Sessions per client","operations":[{"type":"aggregate","collection":"sessions","groupBy":["clientId"],"aggregations":[{"function":"count","field":"id"},{"function":"sum","field":"totalAmount"}]}]}`
)

type mockRule struct {
	contains string
	reply    string
	err      error
}

// MockModel is a scripted model for development and tests. Rules match on the
// operator input embedded in the prompt, first match wins.
type MockModel struct {
	mu      sync.Mutex
	latency time.Duration
	rules   []mockRule
	prompts []string
}

// NewMockModel creates a scripted model
func NewMockModel(config ports.AIConfig) *MockModel {
	latency := time.Duration(0)
	if config.TimeoutMs > 0 && config.TimeoutMs < 1000 {
		latency = time.Duration(config.TimeoutMs) * time.Millisecond / 10
	}
	return &MockModel{latency: latency}
}

// Reply scripts a reply for inputs containing substr (case-insensitive)
func (m *MockModel) Reply(substr, reply string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{contains: strings.ToLower(substr), reply: reply})
	return m
}

// Fail scripts an error for inputs containing substr (case-insensitive)
func (m *MockModel) Fail(substr string, err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{contains: strings.ToLower(substr), err: err})
	return m
}

// Prompts returns every prompt received so far
func (m *MockModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Provider returns the provider name
func (m *MockModel) Provider() string {
	return "mock"
}

// Generate returns the scripted reply for the prompt's input
func (m *MockModel) Generate(ctx context.Context, prompt string) (string, error) {
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	rules := m.rules
	m.mu.Unlock()

	input := strings.ToLower(promptInput(prompt))
	for _, r := range rules {
		if strings.Contains(input, r.contains) {
			if r.err != nil {
				return "", r.err
			}
			return r.reply, nil
		}
	}
	if isPlanPrompt(prompt) {
		return mockPlanReply, nil
	}
	return mockWorkflowReply, nil
}

// promptInput returns the text after the last "Input:" marker
func promptInput(prompt string) string {
	i := strings.LastIndex(prompt, "Input:")
	if i < 0 {
		return prompt
	}
	rest := prompt[i+len("Input:"):]
	if j := strings.LastIndex(rest, "\nOutput:"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func isPlanPrompt(prompt string) bool {
	return strings.Contains(prompt, `"operations"`) && !strings.Contains(prompt, `"commands"`)
}
