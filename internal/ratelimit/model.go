package ratelimit

import (
	"context"

	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

type limitedModel struct {
	inner   ports.GenerativeModel
	limiter *Limiter
}

// NewLimitedModel routes every Generate call through the limiter
func NewLimitedModel(inner ports.GenerativeModel, limiter *Limiter) ports.GenerativeModel {
	return &limitedModel{inner: inner, limiter: limiter}
}

func (m *limitedModel) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := m.limiter.Submit(ctx, func(ctx context.Context) error {
		text, err := m.inner.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (m *limitedModel) Provider() string {
	return m.inner.Provider()
}
