package ai

import (
	"context"
	"fmt"

	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

// NewModel creates the generative model named by config.Provider
func NewModel(ctx context.Context, config ports.AIConfig) (ports.GenerativeModel, error) {
	switch config.Provider {
	case "", "mock":
		return NewMockModel(config), nil
	case "openai":
		return NewOpenAIModel(config), nil
	case "gemini":
		return NewGeminiModel(ctx, config)
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", config.Provider)
	}
}
