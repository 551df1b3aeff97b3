// Package compiler turns operator text into a structured workflow with a
// generative model.
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

// Compiler builds prompts, calls the model and parses workflows
type Compiler struct {
	model    ports.GenerativeModel
	registry *domain.Registry
	cache    ports.WorkflowCache
	logger   logger.Logger
	now      func() time.Time
}

// New creates a compiler. cache may be nil.
func New(model ports.GenerativeModel, registry *domain.Registry, cache ports.WorkflowCache, log logger.Logger) *Compiler {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Compiler{
		model:    model,
		registry: registry,
		cache:    cache,
		logger:   log.WithFields(map[string]interface{}{"component": "compiler"}),
		now:      time.Now,
	}
}

// Registry returns the entity registry prompts are generated from
func (c *Compiler) Registry() *domain.Registry {
	return c.registry
}

// Compile turns text into a workflow with one model call. Every command is
// stamped with the original text and delete workflows always require
// confirmation.
func (c *Compiler) Compile(ctx context.Context, text string, cctx Context) (*domain.Workflow, error) {
	cctx = cctx.Normalize(c.now())
	input := strings.TrimSpace(text)
	if input == "" {
		return nil, domain.NewCommandError(domain.KindCompile, message(cctx.Locale, msgEmptyInput), nil,
			Suggestions(cctx.Locale)...)
	}

	key := CacheKey(input, cctx)
	if c.cache != nil {
		wf, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn(ctx, "Compile cache read failed", map[string]interface{}{"error": err.Error()})
		} else if ok {
			c.logger.Debug(ctx, "Compile cache hit", map[string]interface{}{"key": key})
			return finalize(wf, input), nil
		}
	}

	start := time.Now()
	prompt := BuildPrompt(c.registry, input, cctx)
	reply, err := c.model.Generate(ctx, prompt)
	if err != nil {
		return nil, ModelError(c.model.Provider(), err)
	}

	wf, err := ParseWorkflow(reply)
	if err != nil {
		c.logger.Warn(ctx, "Model reply could not be parsed", map[string]interface{}{
			"provider":     c.model.Provider(),
			"reply_length": len(reply),
			"error":        err.Error(),
		})
		return nil, domain.NewCommandError(domain.KindCompile, message(cctx.Locale, msgCompileFailed), err,
			Suggestions(cctx.Locale)...)
	}
	wf = finalize(wf, input)

	logger.LogPerformance(ctx, c.logger, "compile", time.Since(start), map[string]interface{}{
		"provider": c.model.Provider(),
		"commands": len(wf.Commands),
	})

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, wf); err != nil {
			c.logger.Warn(ctx, "Compile cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return wf, nil
}

func finalize(wf *domain.Workflow, input string) *domain.Workflow {
	wf.StampOriginalInput(input)
	if wf.HasDestructive() {
		wf.RequiresConfirmation = true
	}
	return wf
}

// ModelError keeps limiter errors as they are and wraps provider failures
func ModelError(provider string, err error) error {
	var ce *domain.CommandError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCommandError(domain.KindTimeout, "service busy", err, "try again in a moment")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.ErrExecution(fmt.Sprintf("the %s model request failed", provider), err)
}

// CacheKey identifies a compile request by locale, date and whitespace-normalized text.
// Case is kept since names flow verbatim into created records.
func CacheKey(text string, cctx Context) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(cctx.Locale + "|" + day(cctx.Now) + "|" + cctx.Currency + "|" + normalized))
	return "compile:" + hex.EncodeToString(sum[:])
}
