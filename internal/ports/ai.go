package ports

import (
	"context"
	"fmt"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

// GenerativeModel defines the external text generation contract
type GenerativeModel interface {
	// Generate sends one prompt and returns the raw completion text
	Generate(ctx context.Context, prompt string) (string, error)

	// Provider returns the provider name
	Provider() string
}

// RateLimitError is returned by a GenerativeModel when the provider throttles the call
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// AIConfig represents generative model configuration
type AIConfig struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TimeoutMs   int     `json:"timeout_ms"`
}

// WorkflowCache stores compiled workflows keyed by normalized input
type WorkflowCache interface {
	// Get returns a cached workflow and whether it was found
	Get(ctx context.Context, key string) (*domain.Workflow, bool, error)

	// Set stores a workflow for the configured TTL
	Set(ctx context.Context, key string, wf *domain.Workflow) error
}
